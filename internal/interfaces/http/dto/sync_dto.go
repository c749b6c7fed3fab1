package dto

import (
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// Sync status limits
const (
	DefaultStatusLimit = 20
	MaxStatusLimit     = 200
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// SyncStatusQuery is the query of GET /sync/status
type SyncStatusQuery struct {
	Marketplace string `form:"marketplace" binding:"omitempty,oneof=trendyol hepsiburada amazon ebay"`
	EntityType  string `form:"entity_type" binding:"omitempty,oneof=product inventory price order"`
	Limit       int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

// TriggerSyncRequest is the body of POST /sync/trigger
type TriggerSyncRequest struct {
	Marketplace string `json:"marketplace" binding:"required,oneof=trendyol hepsiburada amazon ebay"`
	EntityType  string `json:"entity_type" binding:"omitempty,oneof=product inventory price order"`
	RetryErrors bool   `json:"retry_errors"`
}

// CategoriesQuery is the query of GET /sync/categories
type CategoriesQuery struct {
	Marketplace string `form:"marketplace" binding:"required,oneof=trendyol hepsiburada amazon ebay"`
}

// CategoryMappingRequest is the body of PUT /sync/category-mappings
type CategoryMappingRequest struct {
	Marketplace      string `json:"marketplace" binding:"required,oneof=trendyol hepsiburada amazon ebay"`
	LocalCategoryID  string `json:"local_category_id" binding:"required,max=100"`
	RemoteCategoryID string `json:"remote_category_id" binding:"required,max=100"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// RunSummaryResponse summarizes a flow's last run
type RunSummaryResponse struct {
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Abandoned   int        `json:"abandoned"`
	Unreachable int        `json:"unreachable"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// SyncLogResponse is one Sync Log row
type SyncLogResponse struct {
	ID            string    `json:"id"`
	EntityID      string    `json:"entity_id"`
	Operation     string    `json:"operation"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// FlowStatusResponse is one flow in GET /sync/status
type FlowStatusResponse struct {
	Marketplace     string              `json:"marketplace"`
	EntityType      string              `json:"entity_type"`
	State           string              `json:"state"`
	LastOutcome     string              `json:"last_outcome,omitempty"`
	LastErrorKind   string              `json:"last_error_kind,omitempty"`
	Suppressed      bool                `json:"suppressed"`
	RerunPending    bool                `json:"rerun_pending"`
	Runs            int64               `json:"runs"`
	LastRunStarted  *time.Time          `json:"last_run_started,omitempty"`
	LastRunFinished *time.Time          `json:"last_run_finished,omitempty"`
	LastRun         *RunSummaryResponse `json:"last_run,omitempty"`
	Recent          []SyncLogResponse   `json:"recent"`
}

// FlowTriggerResponse is one flow's trigger outcome
type FlowTriggerResponse struct {
	Marketplace string `json:"marketplace"`
	EntityType  string `json:"entity_type"`
	Result      string `json:"result"`
}

// RemoteCategoryResponse is one marketplace category
type RemoteCategoryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Leaf     bool   `json:"leaf"`
}

// CategoryMappingResponse is a stored category mapping
type CategoryMappingResponse struct {
	Marketplace      string    `json:"marketplace"`
	LocalCategoryID  string    `json:"local_category_id"`
	RemoteCategoryID string    `json:"remote_category_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// ToFlowStatusResponse converts a flow status and its recent log rows
func ToFlowStatusResponse(status integration.FlowStatus, recent []integration.SyncLogEntry) FlowStatusResponse {
	resp := FlowStatusResponse{
		Marketplace:     string(status.Key.Marketplace),
		EntityType:      string(status.Key.EntityType),
		State:           string(status.State),
		LastOutcome:     string(status.LastOutcome),
		LastErrorKind:   string(status.LastErrorKind),
		Suppressed:      status.Suppressed,
		RerunPending:    status.RerunPending,
		Runs:            status.Runs,
		LastRunStarted:  status.LastRunStarted,
		LastRunFinished: status.LastRunFinished,
		Recent:          make([]SyncLogResponse, 0, len(recent)),
	}
	if status.Runs > 0 {
		resp.LastRun = toRunSummaryResponse(status.LastSummary)
	}
	for _, e := range recent {
		resp.Recent = append(resp.Recent, SyncLogResponse{
			ID:            e.ID.String(),
			EntityID:      e.EntityID,
			Operation:     string(e.Operation),
			AttemptNumber: e.AttemptNumber,
			Status:        string(e.Status),
			ErrorKind:     string(e.ErrorKind),
			ErrorDetail:   e.ErrorDetail,
			StartedAt:     e.StartedAt,
			FinishedAt:    e.FinishedAt,
		})
	}
	return resp
}

func toRunSummaryResponse(s integration.RunSummary) *RunSummaryResponse {
	resp := &RunSummaryResponse{
		Total:       s.Total,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		Abandoned:   s.Abandoned,
		Unreachable: s.Unreachable,
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		resp.StartedAt = &started
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

// ToRemoteCategoryResponses converts marketplace categories
func ToRemoteCategoryResponses(categories []integration.RemoteCategory) []RemoteCategoryResponse {
	out := make([]RemoteCategoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, RemoteCategoryResponse{
			ID:       c.RemoteID,
			Name:     c.Name,
			ParentID: c.ParentID,
			Leaf:     c.Leaf,
		})
	}
	return out
}

// ToCategoryMappingResponse converts a stored category mapping
func ToCategoryMappingResponse(m *integration.CategoryMapping) CategoryMappingResponse {
	return CategoryMappingResponse{
		Marketplace:      string(m.Marketplace),
		LocalCategoryID:  m.LocalCategoryID,
		RemoteCategoryID: m.RemoteCategoryID,
		UpdatedAt:        m.UpdatedAt,
	}
}
