package models

import (
	"slices"
	"time"
)

// DeliverableTemplate is a tenant-scoped artifact definition, optionally tied to a work template.
type DeliverableTemplate struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	WorkTemplateID *string   `json:"work_template_id,omitempty"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (d *DeliverableTemplate) Clone() *DeliverableTemplate {
	if d == nil {
		return nil
	}

	clone := *d
	clone.WorkTemplateID = copyStringPointer(d.WorkTemplateID)
	clone.CreatedBy = copyStringPointer(d.CreatedBy)

	return &clone
}

// DeliverableTemplateVersion is an immutable published artifact with an integrity checksum.
type DeliverableTemplateVersion struct {
	ID                    string     `json:"id"`
	DeliverableTemplateID string     `json:"deliverable_template_id"`
	Version               string     `json:"version"`
	Content               []byte     `json:"content,omitempty"`
	ContentType           string     `json:"content_type,omitempty"`
	Checksum              string     `json:"checksum"`
	Size                  int64      `json:"size"`
	DocumentID            *string    `json:"document_id,omitempty"`
	DocumentVersionID     *string    `json:"document_version_id,omitempty"`
	PublishedBy           *string    `json:"published_by,omitempty"`
	PublishedAt           time.Time  `json:"published_at"`
	IntegrityFlaggedAt    *time.Time `json:"integrity_flagged_at,omitempty"`
}

func (d *DeliverableTemplateVersion) Clone() *DeliverableTemplateVersion {
	if d == nil {
		return nil
	}

	clone := *d
	clone.Content = slices.Clone(d.Content)
	clone.DocumentID = copyStringPointer(d.DocumentID)
	clone.DocumentVersionID = copyStringPointer(d.DocumentVersionID)
	clone.PublishedBy = copyStringPointer(d.PublishedBy)
	clone.IntegrityFlaggedAt = copyTimePointer(d.IntegrityFlaggedAt)

	return &clone
}
