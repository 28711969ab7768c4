package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/flowgate/pkg/testutil"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	e := testutil.NewTestEngine(t)
	logger := testutil.Logger()
	listener := trigger.NewListener(logger, e.Persistence.WorkflowRepository(), nil)

	api := NewAPI(
		logger,
		e.Persistence,
		e.Registry,
		e.Engine,
		listener,
		trigger.NewConsumer(logger, listener, e.Engine),
	)

	return api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "flowgate API", body)
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t)

	status, _ := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, app, "/readyz")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "healthy")
}

func TestAPI_RoutesMounted(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/workflows")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"total_count":0`)

	status, body = get(t, app, "/workflow-instances")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, `"instances"`))

	status, _ = get(t, app, "/approvals/pending")
	assert.Equal(t, http.StatusOK, status)
}
