package models

import "time"

type ApprovalDecision string

const (
	ApprovalDecisionPending  ApprovalDecision = "pending"
	ApprovalDecisionApproved ApprovalDecision = "approved"
	ApprovalDecisionRejected ApprovalDecision = "rejected"
)

// Approval is one request/decision cycle on an approval-type instance step.
type Approval struct {
	ID             string           `json:"id"`
	InstanceStepID string           `json:"instance_step_id"`
	Decision       ApprovalDecision `json:"decision"`
	RequestedBy    *string          `json:"requested_by,omitempty"`
	RequestedAt    time.Time        `json:"requested_at"`
	ApproverID     *string          `json:"approver_id,omitempty"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
	Comment        string           `json:"comment,omitempty"`
}

func (a *Approval) IsPending() bool {
	return a.Decision == ApprovalDecisionPending
}

func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}

	clone := *a
	clone.RequestedBy = copyStringPointer(a.RequestedBy)
	clone.ApproverID = copyStringPointer(a.ApproverID)
	clone.DecidedAt = copyTimePointer(a.DecidedAt)

	return &clone
}
