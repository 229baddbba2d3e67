package http

import (
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// IssueResponse is the response body for POST /api/v1/issues.
type IssueResponse struct {
	PassID string                    `json:"pass_id"`
	Reward float64                   `json:"reward"`
	Issue  *issue.Issue              `json:"issue"`
	Visits []orchestrator.PhaseVisit `json:"visits"`
}

// ErrorResponse carries a failed pass.
type ErrorResponse struct {
	Error string `json:"error"`
}
