// Package web provides the HTTP handlers of the flowgate REST API.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	instanceService *services.Instance
	approvalService *services.Approval
	consumer        *trigger.Consumer
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	instanceService *services.Instance,
	approvalService *services.Approval,
	consumer *trigger.Consumer,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		instanceService: instanceService,
		approvalService: approvalService,
		consumer:        consumer,
		validator:       validator,
		registry:        registry,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/trigger", h.TriggerWorkflow)

	i := app.Group("/workflow-instances")
	i.Get("/", h.GetInstances)
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Get("/:id/audit", h.GetInstanceAudit)
	i.Get("/:id/watch", h.WatchInstance)

	a := app.Group("/approvals")
	a.Get("/pending", h.GetPendingApprovals)
	a.Post("/:id/approve", h.Approve)
	a.Post("/:id/reject", h.Reject)

	app.Post("/events", h.IngestEvent)
	app.Get("/step-types", h.GetStepTypes)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{TriggerType: c.Query("trigger_type")}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.ActiveOnly = active
	}

	workflows, err := h.workflowService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, errInvalidJSON.Error())
		}
	}

	instance, err := h.instanceService.Trigger(c.Context(), trigger.ManualRequest{
		WorkflowID: c.Params("id"),
		RecordType: req.RecordType,
		RecordID:   req.RecordID,
		Actor:      c.Get(ActorHeader),
		Context:    req.Context,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	req := services.ListInstancesRequest{WorkflowID: c.Query("workflow_id")}

	if status := c.Query("status"); status != "" {
		req.Statuses = []string{status}
	}

	var err error

	req.Page, err = intQuery(c, "page")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req.PageSize, err = intQuery(c, "page_size")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.instanceService.ListInstances(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	detail, err := h.instanceService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, errInvalidJSON.Error())
		}
	}

	instance, err := h.instanceService.Cancel(c.Context(), c.Params("id"), c.Get(ActorHeader), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceAudit(c fiber.Ctx) error {
	trail, err := h.instanceService.Audit(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": trail})
}

// WatchInstance long-polls an instance: it answers as soon as the instance
// version differs from the version query parameter, the instance is
// terminal or the timeout expires.
func (h *APIHandlers) WatchInstance(c fiber.Ctx) error {
	version, err := intQuery(c, "version")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	timeout, err := durationQuery(c, "timeout")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	instance, changed, err := h.instanceService.Watch(c.Context(), c.Params("id"), version, timeout)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WatchResponse{Changed: changed, Instance: instance})
}

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	actor := c.Query("actor")
	if actor == "" {
		actor = c.Get(ActorHeader)
	}

	approvals, err := h.approvalService.Pending(c.Context(), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) Approve(c fiber.Ctx) error {
	return h.decide(c, models.DecisionApprove)
}

func (h *APIHandlers) Reject(c fiber.Ctx) error {
	return h.decide(c, models.DecisionReject)
}

func (h *APIHandlers) decide(c fiber.Ctx, decision models.Decision) error {
	var req DecisionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, errInvalidJSON.Error())
		}
	}

	approval, err := h.approvalService.Decide(c.Context(), c.Params("id"), decision, c.Get(ActorHeader), req.Comments)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

// IngestEvent accepts a domain event over HTTP and starts the workflows it
// fires, the same way the event bus consumer does.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var event events.DomainEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.consumer.Handle(c.Context(), &event)
	if err != nil {
		return handleServiceError(c, err)
	}

	ids := make([]string, 0, len(started))
	for _, instance := range started {
		ids = append(ids, instance.ID)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventResponse{EventID: event.ID, Instances: ids})
}

func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	factories := h.registry.Factories()

	stepTypes := make([]StepTypeResponse, 0, len(factories))
	for _, factory := range factories {
		stepTypes = append(stepTypes, StepTypeResponse{
			StepType:    factory.StepType(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(fiber.Map{"step_types": stepTypes})
}

// Ready reports whether the API can serve requests. It backs the readiness
// probe.
func (h *APIHandlers) Ready(c fiber.Ctx) bool {
	_, regOk := h.registry.HealthCheck()
	_, repOk := h.workflowService.HealthCheck(c.Context())

	return regOk && repOk
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "flowgate API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "flowgate API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func intQuery(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}

// durationQuery reads a Go duration ("10s") or a number of seconds.
func durationQuery(c fiber.Ctx, key string) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return time.ParseDuration(raw)
}
