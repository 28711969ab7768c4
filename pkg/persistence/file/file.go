// Package file provides file-based persistence for workflows, instances,
// approvals and audit events.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowgate/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
//
// Layout under root:
//
//	workflows/{id}.json
//	instances/{id}.json
//	approvals/{id}.json
//	audit/{instance_id}.jsonl
//	dedupe/{sha256(dedupe_key)}
type Persistence struct {
	store        *store
	workflowRepo *WorkflowRepository
	instanceRepo *InstanceRepository
	approvalRepo *ApprovalRepository
	auditRepo    *AuditRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		workflowRepo: &WorkflowRepository{store: s},
		instanceRepo: &InstanceRepository{store: s},
		approvalRepo: &ApprovalRepository{store: s},
		auditRepo:    &AuditRepository{store: s},
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return fp.approvalRepo
}

func (fp *Persistence) AuditRepository() persistence.AuditRepository {
	return fp.auditRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists and is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.store.root, 0o750)
	if err != nil {
		return fmt.Errorf("file persistence root is not usable: %w", err)
	}

	probe, err := os.CreateTemp(fp.store.root, ".health-*")
	if err != nil {
		return fmt.Errorf("file persistence root is not writable: %w", err)
	}

	_ = probe.Close()

	return os.Remove(probe.Name())
}

// store serializes every file operation of one root. Writes go through a
// temp file and a rename so a crash never leaves a half-written document.
type store struct {
	mu   sync.Mutex
	root string
}

func (s *store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func (s *store) read(path string, v any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

func (s *store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	return s.writeBytes(path, data)
}

func (s *store) writeBytes(path string, data []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}

	return nil
}

// list returns the ids of the *.json documents of a directory.
func (s *store) list(dir string) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(s.path(dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(match, ".json"))
	}

	return ids, nil
}

// validID rejects ids that would escape the storage directories.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
