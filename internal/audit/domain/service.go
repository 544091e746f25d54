package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/disburse/pkg/db/pagination"
)

// Entry carries the caller-supplied fields for one audit record.
type Entry struct {
	ActorType  string
	ActorID    *string
	Action     string
	Status     Status
	TargetType string
	TargetID   *string
	Details    map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	Status     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidStatus    = errors.New("invalid_status")
)

// ValidStatus reports whether the status is one of the known values.
func ValidStatus(status Status) bool {
	switch status {
	case StatusSuccess, StatusFailure, StatusWarning, StatusInfo:
		return true
	default:
		return false
	}
}
