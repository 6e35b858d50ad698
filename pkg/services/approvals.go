package services

import (
	"context"

	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Approvals records approval requests and decisions on approval steps.
type Approvals struct {
	*core
}

func NewApprovals(p persistence.Persistence, opts ...Option) *Approvals {
	return &Approvals{core: newCore(p, "approvals", opts)}
}

type RequestApprovalRequest struct {
	RequestedBy *string `json:"requested_by,omitempty"`
}

type DecideRequest struct {
	Decision   models.ApprovalDecision `json:"decision"              validate:"required,oneof=approved rejected"`
	ApproverID *string                 `json:"approver_id,omitempty"`
	Comment    string                  `json:"comment,omitempty"     validate:"max=4000"`
}

// RequestApproval opens a pending approval on an approval step. Only one may be pending at a time.
func (s *Approvals) RequestApproval(ctx context.Context, stepID string, req RequestApprovalRequest) (approval *models.Approval, err error) {
	ctx, end := s.span(ctx, "approvals.RequestApproval", attribute.String(otelhelper.InstanceStepIDKey, stepID))
	defer end(&err)

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		step, err := tx.Instances().GetStepForUpdate(ctx, stepID)
		if err != nil {
			return err
		}

		if step.Type != models.StepTypeApproval {
			return newError("RequestApproval", ErrInvalidStepType, "step %s is a %s step", step.StepKey, step.Type)
		}

		if step.Status.IsTerminal() {
			return &PreconditionError{Op: "RequestApproval", StepKey: step.StepKey, Status: string(step.Status)}
		}

		latest, err := tx.Approvals().Latest(ctx, stepID)
		if err != nil && !persistence.IsNotFound(err) {
			return err
		}

		if latest != nil && latest.IsPending() {
			return newError("RequestApproval", ErrDuplicateRequest, "approval %s is pending on step %s", latest.ID, step.StepKey)
		}

		instance, err := tx.Instances().GetByID(ctx, step.InstanceID)
		if err != nil {
			return err
		}

		approval = &models.Approval{
			ID:             newID(),
			InstanceStepID: stepID,
			Decision:       models.ApprovalDecisionPending,
			RequestedBy:    req.RequestedBy,
			RequestedAt:    s.clock(),
		}

		if err := tx.Approvals().Create(ctx, approval); err != nil {
			return translate(err)
		}

		out.add(instance.ID, events.ApprovalRequested{
			BaseEvent:      s.baseEvent(events.ApprovalRequestedEvent, instance.TenantID),
			ApprovalID:     approval.ID,
			InstanceID:     instance.ID,
			InstanceStepID: stepID,
			StepKey:        step.StepKey,
			RequestedBy:    req.RequestedBy,
			Assignee:       step.Assignee,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return approval, nil
}

// Decide records an approval decision exactly once. Concurrent deciders race on
// the pending state; the loser gets AlreadyDecided.
func (s *Approvals) Decide(ctx context.Context, approvalID string, req DecideRequest) (approval *models.Approval, err error) {
	ctx, end := s.span(ctx, "approvals.Decide", attribute.String(otelhelper.ApprovalIDKey, approvalID))
	defer end(&err)

	if err := s.check("Decide", req, ErrValidationFailed); err != nil {
		return nil, err
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		var err error

		approval, err = tx.Approvals().GetByID(ctx, approvalID)
		if err != nil {
			return err
		}

		step, err := tx.Instances().GetStepForShare(ctx, approval.InstanceStepID)
		if err != nil {
			return err
		}

		if !approval.IsPending() {
			return newError("Decide", ErrAlreadyDecided, "approval %s is %s", approvalID, approval.Decision)
		}

		approval.Decision = req.Decision
		approval.ApproverID = req.ApproverID
		approval.DecidedAt = timePointer(s.clock())
		approval.Comment = req.Comment

		if err := tx.Approvals().Decide(ctx, approval); err != nil {
			return translate(err)
		}

		instance, err := tx.Instances().GetByID(ctx, step.InstanceID)
		if err != nil {
			return err
		}

		out.add(instance.ID, events.ApprovalDecided{
			BaseEvent:      s.baseEvent(events.ApprovalDecidedEvent, instance.TenantID),
			ApprovalID:     approval.ID,
			InstanceID:     instance.ID,
			InstanceStepID: step.ID,
			StepKey:        step.StepKey,
			Decision:       string(approval.Decision),
			ApproverID:     approval.ApproverID,
			Comment:        stringPointer(approval.Comment),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "approval decided", "approval_id", approvalID, "decision", approval.Decision)

	return approval, nil
}

func (s *Approvals) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var approval *models.Approval

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		approval, err = tx.Approvals().GetByID(ctx, id)

		return err
	})

	return approval, err
}

// ListApprovals returns every approval of a step, oldest first.
func (s *Approvals) ListApprovals(ctx context.Context, stepID string) ([]*models.Approval, error) {
	var approvals []*models.Approval

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if _, err := tx.Instances().GetStep(ctx, stepID); err != nil {
			return err
		}

		var err error
		approvals, err = tx.Approvals().ListByStep(ctx, stepID)

		return err
	})

	return approvals, err
}
