package web

// ActorHeader carries the acting user id. Body fields take precedence when set.
const ActorHeader = "X-Actor-ID"

type ListTemplatesQuery struct {
	TenantID string `query:"tenant_id" validate:"max=100"`
	Status   string `query:"status"    validate:"omitempty,oneof=draft published archived"`
	Limit    int    `query:"limit"     validate:"min=0,max=500"`
	Offset   int    `query:"offset"    validate:"min=0"`
}

type ListInstancesQuery struct {
	TenantID  string `query:"tenant_id"  validate:"max=100"`
	ProjectID string `query:"project_id" validate:"max=100"`
	VersionID string `query:"version_id"`
	Status    string `query:"status"     validate:"omitempty,oneof=pending running completed cancelled"`
	Limit     int    `query:"limit"      validate:"min=0,max=500"`
	Offset    int    `query:"offset"     validate:"min=0"`
}

type PublishRequest struct {
	PublishedBy *string `json:"published_by,omitempty"`
}

type CancelRequest struct {
	Actor *string `json:"actor,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Checks  struct {
		Persistence string `json:"persistence"`
	} `json:"checks"`
}
