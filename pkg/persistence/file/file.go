// Package file provides a file-backed persistence implementation for development and tests.
//
// The whole dataset lives in memory behind a single read/write mutex. Each
// unit of work runs against a private copy of the state which replaces the
// shared state only when the unit succeeds, and is then written to
// root/state.json. Views read the shared state in place under the read lock.
// An empty root keeps everything in memory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

const stateFile = "state.json"

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root  string
	mu    sync.RWMutex
	state *state
}

// NewPersistence creates a new instance of Persistence with the specified root directory,
// loading any state previously written there.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{
		root:  cleanRoot,
		state: newState(),
	}

	if cleanRoot == "" {
		return p, nil
	}

	err := os.MkdirAll(cleanRoot, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence root: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(cleanRoot, stateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}

		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	loaded := newState()

	err = json.Unmarshal(data, loaded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}

	loaded.ensureMaps()
	p.state = loaded

	return p, nil
}

// NewMemoryPersistence creates a Persistence that never touches the file system.
func NewMemoryPersistence() *Persistence {
	return &Persistence{state: newState()}
}

// Transact runs fn against a private copy of the state and publishes it on success.
// Units of work are serialized; fn must not call Transact again.
func (p *Persistence) Transact(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := p.state.clone()

	err := fn(ctx, &transaction{state: working})
	if err != nil {
		return err
	}

	if p.root != "" {
		if err := p.write(working); err != nil {
			return err
		}
	}

	p.state = working

	return nil
}

// View runs fn against the shared state without copying it. Repositories
// already hand out clones, and writes are rejected.
func (p *Persistence) View(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(ctx, persistence.ReadOnly(&transaction{state: p.state}))
}

func (p *Persistence) write(s *state) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := filepath.Join(p.root, stateFile+".tmp")

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	err = os.Rename(tmp, filepath.Join(p.root, stateFile))
	if err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if p.root == "" {
		return nil
	}

	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

type transaction struct {
	state *state
}

func (t *transaction) Templates() persistence.TemplateRepository {
	return &templateRepository{state: t.state}
}

func (t *transaction) Versions() persistence.VersionRepository {
	return &versionRepository{state: t.state}
}

func (t *transaction) Instances() persistence.InstanceRepository {
	return &instanceRepository{state: t.state}
}

func (t *transaction) FieldValues() persistence.FieldValueRepository {
	return &fieldValueRepository{state: t.state}
}

func (t *transaction) Approvals() persistence.ApprovalRepository {
	return &approvalRepository{state: t.state}
}

func (t *transaction) Deliverables() persistence.DeliverableRepository {
	return &deliverableRepository{state: t.state}
}

type state struct {
	Templates           map[string]*models.WorkTemplate               `json:"templates"`
	Versions            map[string]*models.WorkTemplateVersion        `json:"versions"`
	Instances           map[string]*models.WorkInstance               `json:"instances"`
	InstanceSteps       map[string]*models.WorkInstanceStep           `json:"instance_steps"`
	FieldValues         map[string]*models.WorkInstanceFieldValue     `json:"field_values"`
	Approvals           map[string]*models.Approval                   `json:"approvals"`
	StepApprovals       map[string][]string                           `json:"step_approvals"`
	Deliverables        map[string]*models.DeliverableTemplate        `json:"deliverables"`
	DeliverableVersions map[string]*models.DeliverableTemplateVersion `json:"deliverable_versions"`
}

func newState() *state {
	s := &state{}
	s.ensureMaps()

	return s
}

func (s *state) ensureMaps() {
	if s.Templates == nil {
		s.Templates = map[string]*models.WorkTemplate{}
	}

	if s.Versions == nil {
		s.Versions = map[string]*models.WorkTemplateVersion{}
	}

	if s.Instances == nil {
		s.Instances = map[string]*models.WorkInstance{}
	}

	if s.InstanceSteps == nil {
		s.InstanceSteps = map[string]*models.WorkInstanceStep{}
	}

	if s.FieldValues == nil {
		s.FieldValues = map[string]*models.WorkInstanceFieldValue{}
	}

	if s.Approvals == nil {
		s.Approvals = map[string]*models.Approval{}
	}

	if s.StepApprovals == nil {
		s.StepApprovals = map[string][]string{}
	}

	if s.Deliverables == nil {
		s.Deliverables = map[string]*models.DeliverableTemplate{}
	}

	if s.DeliverableVersions == nil {
		s.DeliverableVersions = map[string]*models.DeliverableTemplateVersion{}
	}
}

func (s *state) clone() *state {
	c := &state{
		Templates:           cloneMap(s.Templates, (*models.WorkTemplate).Clone),
		Versions:            cloneMap(s.Versions, (*models.WorkTemplateVersion).Clone),
		Instances:           cloneMap(s.Instances, (*models.WorkInstance).Clone),
		InstanceSteps:       cloneMap(s.InstanceSteps, (*models.WorkInstanceStep).Clone),
		FieldValues:         cloneMap(s.FieldValues, (*models.WorkInstanceFieldValue).Clone),
		Approvals:           cloneMap(s.Approvals, (*models.Approval).Clone),
		StepApprovals:       make(map[string][]string, len(s.StepApprovals)),
		Deliverables:        cloneMap(s.Deliverables, (*models.DeliverableTemplate).Clone),
		DeliverableVersions: cloneMap(s.DeliverableVersions, (*models.DeliverableTemplateVersion).Clone),
	}

	for stepID, ids := range s.StepApprovals {
		c.StepApprovals[stepID] = append([]string(nil), ids...)
	}

	return c
}

func cloneMap[T any](in map[string]*T, clone func(*T) *T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}

	return out
}

func fieldValueKey(instanceStepID, fieldKey string) string {
	return instanceStepID + "/" + fieldKey
}
