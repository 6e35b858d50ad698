package services

import (
	"context"
	"time"

	"github.com/dukex/worktemplate/pkg/dependency"
	"github.com/dukex/worktemplate/pkg/eventbus"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Instances runs published versions: it creates instances and drives step transitions.
type Instances struct {
	*core
}

func NewInstances(p persistence.Persistence, opts ...Option) *Instances {
	return &Instances{core: newCore(p, "instances", opts)}
}

type InstantiateRequest struct {
	ProjectID string  `json:"project_id"           validate:"required,max=100"`
	CreatedBy *string `json:"created_by,omitempty"`
}

type TransitionRequest struct {
	Target models.StepStatus `json:"target"          validate:"required,oneof=in_progress completed skipped"`
	Actor  *string           `json:"actor,omitempty"`
}

type AssignRequest struct {
	Assignee string  `json:"assignee"        validate:"required,max=255"`
	Actor    *string `json:"actor,omitempty"`
}

// Instantiate creates an instance of a published version. Steps without
// dependencies start ready, the rest blocked. Field defaults become values.
func (s *Instances) Instantiate(ctx context.Context, versionID string, req InstantiateRequest) (instance *models.WorkInstance, err error) {
	ctx, end := s.span(ctx, "instances.Instantiate", attribute.String(otelhelper.VersionIDKey, versionID))
	defer end(&err)

	if err := s.check("Instantiate", req, ErrValidationFailed); err != nil {
		return nil, err
	}

	snapshot, err := s.publishedSnapshot(ctx, versionID)
	if err != nil {
		return nil, err
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		template, err := tx.Templates().GetByID(ctx, snapshot.TemplateID)
		if err != nil {
			return err
		}

		if template.Status == models.TemplateStatusArchived {
			return newError("Instantiate", ErrInvalidState, "template %s is archived", template.ID)
		}

		now := s.clock()
		instance = &models.WorkInstance{
			ID:         newID(),
			TenantID:   snapshot.TenantID,
			ProjectID:  req.ProjectID,
			TemplateID: snapshot.TemplateID,
			VersionID:  snapshot.VersionID,
			Status:     models.InstanceStatusPending,
			CreatedBy:  req.CreatedBy,
			CreatedAt:  now,
			UpdatedAt:  now,
			Steps:      make([]*models.WorkInstanceStep, 0, len(snapshot.Steps)),
		}

		for _, definition := range snapshot.Steps {
			instance.Steps = append(instance.Steps, newInstanceStep(instance, definition, now))
		}

		if err := tx.Instances().Create(ctx, instance); err != nil {
			return err
		}

		if err := s.materializeDefaults(ctx, tx, instance, now); err != nil {
			return err
		}

		byKey := stepsByKey(instance.Steps)

		out.add(instance.ID, events.InstanceCreated{
			BaseEvent:  s.baseEvent(events.InstanceCreatedEvent, instance.TenantID),
			InstanceID: instance.ID,
			ProjectID:  instance.ProjectID,
			TemplateID: instance.TemplateID,
			VersionID:  instance.VersionID,
			StepCount:  len(instance.Steps),
		})

		for _, step := range instance.Steps {
			if step.Status != models.StepStatusReady {
				continue
			}

			if s.resolveFieldAssignee(ctx, tx, step, byKey) {
				if err := tx.Instances().CompareAndSwapStep(ctx, step, models.StepStatusReady); err != nil {
					return translate(err)
				}
			}

			out.add(instance.ID, events.StepReady{StepEvent: s.stepEvent(events.StepReadyEvent, instance, step, nil)})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "instance created",
		"instance_id", instance.ID,
		"version_id", instance.VersionID,
		"project_id", instance.ProjectID,
		"steps", len(instance.Steps))

	return instance, nil
}

func newInstanceStep(instance *models.WorkInstance, definition *models.WorkTemplateStep, now time.Time) *models.WorkInstanceStep {
	step := &models.WorkInstanceStep{
		ID:             newID(),
		InstanceID:     instance.ID,
		StepKey:        definition.StepKey,
		Name:           definition.Name,
		Type:           definition.Type,
		StepOrder:      definition.StepOrder,
		DependsOn:      append([]string{}, definition.DependsOn...),
		AssigneeRule:   definition.AssigneeRule,
		SnapshotFields: models.CloneFields(definition.Fields),
		Status:         models.StepStatusBlocked,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if len(step.DependsOn) == 0 {
		step.Status = models.StepStatusReady
	}

	if definition.SLAHours != nil {
		hours := *definition.SLAHours
		step.SLAHours = &hours
		step.Deadline = timePointer(instance.CreatedAt.Add(time.Duration(hours) * time.Hour))
	}

	if rule, err := ParseAssigneeRule(step.AssigneeRule); err == nil && rule.Kind == AssigneeUser {
		step.Assignee = stringPointer(rule.Value)
	}

	return step
}

func (s *Instances) materializeDefaults(ctx context.Context, tx persistence.Tx, instance *models.WorkInstance, now time.Time) error {
	for _, step := range instance.Steps {
		for _, field := range step.SnapshotFields {
			if field.DefaultValue == nil {
				continue
			}

			value, err := fields.Coerce(field, field.DefaultValue)
			if err != nil {
				return newError("Instantiate", err, "default of %s.%s", step.StepKey, field.FieldKey)
			}

			err = tx.FieldValues().Upsert(ctx, &models.WorkInstanceFieldValue{
				ID:             newID(),
				InstanceStepID: step.ID,
				FieldKey:       field.FieldKey,
				Value:          value,
				UpdatedBy:      instance.CreatedBy,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// resolveFieldAssignee sets the assignee of a step whose rule reads another step's field.
// It reports whether the step changed.
func (s *Instances) resolveFieldAssignee(ctx context.Context, tx persistence.Tx, step *models.WorkInstanceStep, byKey map[string]*models.WorkInstanceStep) bool {
	rule, err := ParseAssigneeRule(step.AssigneeRule)
	if err != nil || rule.Kind != AssigneeField {
		return false
	}

	source, ok := byKey[rule.StepKey]
	if !ok {
		return false
	}

	value, err := tx.FieldValues().Get(ctx, source.ID, rule.FieldKey)
	if err != nil {
		if !persistence.IsNotFound(err) {
			s.logger.WarnContext(ctx, "failed to read assignee field", "step_key", step.StepKey, "error", err)
		}

		return false
	}

	if value.Value.String == nil || *value.Value.String == "" {
		return false
	}

	step.Assignee = stringPointer(*value.Value.String)

	return true
}

// Transition moves a step to in_progress, completed or skipped.
func (s *Instances) Transition(ctx context.Context, stepID string, req TransitionRequest) (*models.WorkInstanceStep, error) {
	if err := s.check("Transition", req, ErrValidationFailed); err != nil {
		return nil, err
	}

	switch req.Target {
	case models.StepStatusInProgress:
		return s.Start(ctx, stepID, req.Actor)
	case models.StepStatusCompleted:
		return s.Complete(ctx, stepID, req.Actor)
	default:
		return s.Skip(ctx, stepID, req.Actor)
	}
}

// Start moves a ready step to in_progress.
func (s *Instances) Start(ctx context.Context, stepID string, actor *string) (*models.WorkInstanceStep, error) {
	return s.transition(ctx, "Start", stepID, actor, models.StepStatusInProgress)
}

// Complete moves an in_progress step to completed once every required visible
// field holds a valid value and, for approval steps, the latest approval is approved.
func (s *Instances) Complete(ctx context.Context, stepID string, actor *string) (*models.WorkInstanceStep, error) {
	return s.transition(ctx, "Complete", stepID, actor, models.StepStatusCompleted)
}

// Skip moves any open step to skipped without checking fields or approvals.
func (s *Instances) Skip(ctx context.Context, stepID string, actor *string) (*models.WorkInstanceStep, error) {
	return s.transition(ctx, "Skip", stepID, actor, models.StepStatusSkipped)
}

func (s *Instances) transition(ctx context.Context, op, stepID string, actor *string, target models.StepStatus) (step *models.WorkInstanceStep, err error) {
	ctx, end := s.span(ctx, "instances."+op,
		attribute.String(otelhelper.InstanceStepIDKey, stepID),
		attribute.String(otelhelper.TransitionKey, string(target)))
	defer end(&err)

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		located, err := tx.Instances().GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		instance, err := tx.Instances().GetForUpdate(ctx, located.InstanceID)
		if err != nil {
			return err
		}

		if instance.Status.IsTerminal() {
			return &PreconditionError{Op: op, StepKey: located.StepKey, Status: "instance " + string(instance.Status)}
		}

		step, err = tx.Instances().GetStepForUpdate(ctx, stepID)
		if err != nil {
			return err
		}

		expected := step.Status
		now := s.clock()

		var event events.EventType

		switch target {
		case models.StepStatusInProgress:
			if expected != models.StepStatusReady {
				return &PreconditionError{Op: op, StepKey: step.StepKey, Status: string(expected)}
			}

			step.StartedAt, step.StartedBy = timePointer(now), actor
			event = events.StepStartedEvent
		case models.StepStatusCompleted:
			if expected != models.StepStatusInProgress {
				return &PreconditionError{Op: op, StepKey: step.StepKey, Status: string(expected)}
			}

			if err := s.checkCompletion(ctx, tx, op, step); err != nil {
				return err
			}

			step.CompletedAt, step.CompletedBy = timePointer(now), actor
			event = events.StepCompletedEvent
		default:
			if expected.IsTerminal() {
				return &PreconditionError{Op: op, StepKey: step.StepKey, Status: string(expected)}
			}

			step.SkippedAt, step.SkippedBy = timePointer(now), actor
			event = events.StepSkippedEvent
		}

		step.Status = target
		step.UpdatedAt = now

		if err := tx.Instances().CompareAndSwapStep(ctx, step, expected); err != nil {
			return translate(err)
		}

		out.add(instance.ID, stepTransitionEvent(event, s.stepEvent(event, instance, step, actor)))

		if target == models.StepStatusInProgress {
			return s.markRunning(ctx, tx, instance, now)
		}

		return s.advance(ctx, tx, out, instance, step, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "step transitioned", "instance_step_id", step.ID, "step_key", step.StepKey, "status", step.Status)

	return step, nil
}

func stepTransitionEvent(eventType events.EventType, base events.StepEvent) eventbus.Event {
	switch eventType {
	case events.StepStartedEvent:
		return events.StepStarted{StepEvent: base}
	case events.StepCompletedEvent:
		return events.StepCompleted{StepEvent: base}
	default:
		return events.StepSkipped{StepEvent: base}
	}
}

func (s *Instances) markRunning(ctx context.Context, tx persistence.Tx, instance *models.WorkInstance, now time.Time) error {
	if instance.Status != models.InstanceStatusPending {
		return nil
	}

	instance.Status = models.InstanceStatusRunning
	instance.StartedAt = timePointer(now)
	instance.UpdatedAt = now

	return tx.Instances().Update(ctx, instance)
}

// checkCompletion re-reads values and the latest approval under the step lock.
func (s *Instances) checkCompletion(ctx context.Context, tx persistence.Tx, op string, step *models.WorkInstanceStep) error {
	values, err := tx.FieldValues().ListByStep(ctx, step.ID)
	if err != nil {
		return err
	}

	evaluation, err := fields.Evaluate(step.SnapshotFields, valueMap(values))
	if err != nil {
		return err
	}

	failed := &PreconditionError{Op: op, StepKey: step.StepKey}

	if !evaluation.Complete() {
		failed.MissingFields = evaluation.Missing
		failed.InvalidFields = evaluation.Invalid
	}

	if step.Type == models.StepTypeApproval {
		latest, err := tx.Approvals().Latest(ctx, step.ID)

		switch {
		case persistence.IsNotFound(err):
			failed.Approval = "not requested"
		case err != nil:
			return err
		case latest.Decision != models.ApprovalDecisionApproved:
			failed.Approval = string(latest.Decision)
		}
	}

	if len(failed.MissingFields) > 0 || len(failed.InvalidFields) > 0 || failed.Approval != "" {
		return failed
	}

	return nil
}

// advance re-evaluates the direct dependents of a step that just finished and
// completes the instance once every step is completed or skipped.
func (s *Instances) advance(ctx context.Context, tx persistence.Tx, out *outbox, instance *models.WorkInstance, finished *models.WorkInstanceStep, now time.Time) error {
	steps, err := tx.Instances().ListSteps(ctx, instance.ID)
	if err != nil {
		return err
	}

	byKey := stepsByKey(steps)
	dependents := dependency.Dependents(dependency.FromInstanceSteps(steps))

	for _, key := range dependents[finished.StepKey] {
		dependent := byKey[key]
		if dependent.Status != models.StepStatusBlocked || !dependenciesSatisfied(dependent, byKey) {
			continue
		}

		dependent.Status = models.StepStatusReady
		dependent.UpdatedAt = now
		s.resolveFieldAssignee(ctx, tx, dependent, byKey)

		if err := tx.Instances().CompareAndSwapStep(ctx, dependent, models.StepStatusBlocked); err != nil {
			return translate(err)
		}

		out.add(instance.ID, events.StepReady{StepEvent: s.stepEvent(events.StepReadyEvent, instance, dependent, nil)})
	}

	for _, step := range steps {
		if !step.Status.IsTerminal() {
			return nil
		}
	}

	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = timePointer(now)
	instance.UpdatedAt = now

	if err := tx.Instances().Update(ctx, instance); err != nil {
		return err
	}

	out.add(instance.ID, events.InstanceCompleted{
		BaseEvent:  s.baseEvent(events.InstanceCompletedEvent, instance.TenantID),
		InstanceID: instance.ID,
		ProjectID:  instance.ProjectID,
	})

	return nil
}

func dependenciesSatisfied(step *models.WorkInstanceStep, byKey map[string]*models.WorkInstanceStep) bool {
	for _, key := range step.DependsOn {
		dep, ok := byKey[key]
		if !ok || !dep.Status.IsTerminal() {
			return false
		}
	}

	return true
}

// Cancel skips every open step and marks the instance cancelled. Cancelling a
// completed or cancelled instance returns it unchanged.
func (s *Instances) Cancel(ctx context.Context, instanceID string, actor *string) (instance *models.WorkInstance, err error) {
	ctx, end := s.span(ctx, "instances.Cancel", attribute.String(otelhelper.InstanceIDKey, instanceID))
	defer end(&err)

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		var err error

		instance, err = tx.Instances().GetForUpdate(ctx, instanceID)
		if err != nil {
			return err
		}

		steps, err := tx.Instances().ListSteps(ctx, instanceID)
		if err != nil {
			return err
		}

		instance.Steps = steps

		if instance.Status.IsTerminal() {
			return nil
		}

		now := s.clock()

		for _, step := range steps {
			if step.Status.IsTerminal() {
				continue
			}

			expected := step.Status
			step.Status = models.StepStatusSkipped
			step.SkippedAt, step.SkippedBy = timePointer(now), actor
			step.UpdatedAt = now

			if err := tx.Instances().CompareAndSwapStep(ctx, step, expected); err != nil {
				return translate(err)
			}

			out.add(instance.ID, events.StepSkipped{StepEvent: s.stepEvent(events.StepSkippedEvent, instance, step, actor)})
		}

		instance.Status = models.InstanceStatusCancelled
		instance.CancelledAt = timePointer(now)
		instance.CancelledBy = actor
		instance.UpdatedAt = now

		if err := tx.Instances().Update(ctx, instance); err != nil {
			return err
		}

		out.add(instance.ID, events.InstanceCancelled{
			BaseEvent:   s.baseEvent(events.InstanceCancelledEvent, instance.TenantID),
			InstanceID:  instance.ID,
			ProjectID:   instance.ProjectID,
			CancelledBy: actor,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// AssignStep sets the assignee of an open step, overriding its rule.
func (s *Instances) AssignStep(ctx context.Context, stepID string, req AssignRequest) (*models.WorkInstanceStep, error) {
	if err := s.check("AssignStep", req, ErrValidationFailed); err != nil {
		return nil, err
	}

	var step *models.WorkInstanceStep

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		located, err := tx.Instances().GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		instance, err := tx.Instances().GetForUpdate(ctx, located.InstanceID)
		if err != nil {
			return err
		}

		step, err = tx.Instances().GetStepForUpdate(ctx, stepID)
		if err != nil {
			return err
		}

		if instance.Status.IsTerminal() || step.Status.IsTerminal() {
			return &PreconditionError{Op: "AssignStep", StepKey: step.StepKey, Status: string(step.Status)}
		}

		step.Assignee = stringPointer(req.Assignee)
		step.UpdatedAt = s.clock()

		return translate(tx.Instances().CompareAndSwapStep(ctx, step, step.Status))
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

// GetInstance returns the instance with its steps.
func (s *Instances) GetInstance(ctx context.Context, id string) (*models.WorkInstance, error) {
	var instance *models.WorkInstance

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		instance, err = tx.Instances().GetByID(ctx, id)
		if err != nil {
			return err
		}

		instance.Steps, err = tx.Instances().ListSteps(ctx, id)

		return err
	})

	return instance, err
}

func (s *Instances) ListInstances(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkInstance, error) {
	var instances []*models.WorkInstance

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		instances, err = tx.Instances().List(ctx, opts)

		return err
	})

	return instances, err
}

func (s *Instances) ListSteps(ctx context.Context, instanceID string) ([]*models.WorkInstanceStep, error) {
	var steps []*models.WorkInstanceStep

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if _, err := tx.Instances().GetByID(ctx, instanceID); err != nil {
			return err
		}

		var err error
		steps, err = tx.Instances().ListSteps(ctx, instanceID)

		return err
	})

	return steps, err
}

func (s *Instances) GetStep(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	var step *models.WorkInstanceStep

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		step, err = tx.Instances().GetStep(ctx, stepID)

		return err
	})

	return step, err
}

// DeleteInstance removes an instance with its steps, values and approvals.
func (s *Instances) DeleteInstance(ctx context.Context, id string) error {
	return s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		if _, err := tx.Instances().GetForUpdate(ctx, id); err != nil {
			return err
		}

		return tx.Instances().Delete(ctx, id)
	})
}

func (c *core) stepEvent(eventType events.EventType, instance *models.WorkInstance, step *models.WorkInstanceStep, actor *string) events.StepEvent {
	return events.StepEvent{
		BaseEvent:      c.baseEvent(eventType, instance.TenantID),
		InstanceID:     instance.ID,
		InstanceStepID: step.ID,
		StepKey:        step.StepKey,
		Status:         string(step.Status),
		Actor:          actor,
		Assignee:       step.Assignee,
		Deadline:       step.Deadline,
	}
}

func stepsByKey(steps []*models.WorkInstanceStep) map[string]*models.WorkInstanceStep {
	byKey := make(map[string]*models.WorkInstanceStep, len(steps))
	for _, step := range steps {
		byKey[step.StepKey] = step
	}

	return byKey
}

func valueMap(values []*models.WorkInstanceFieldValue) map[string]models.FieldValue {
	m := make(map[string]models.FieldValue, len(values))
	for _, value := range values {
		m[value.FieldKey] = value.Value
	}

	return m
}
