package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event types emitted by the Rise settlement rail.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventAccountUpdated   = "account.updated"
)

// Event is a received provider callback, recorded before processing.
type Event struct {
	ID              snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	Provider        string         `gorm:"column:provider" json:"provider"`
	ProviderEventID string         `gorm:"column:provider_event_id" json:"provider_event_id"`
	EventType       string         `gorm:"column:event_type" json:"event_type"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload"`
	Processed       bool           `gorm:"column:processed" json:"processed"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	TransactionID   *snowflake.ID  `gorm:"column:transaction_id" json:"transaction_id,omitempty"`
	Error           *string        `gorm:"column:error" json:"error,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}

// Result reports the outcome of one webhook delivery.
type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Handled   bool   `json:"handled"`
}

type Repository interface {
	// Insert records the event. Returns false when the same provider event id
	// was already recorded, which is how redelivery is detected.
	Insert(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID *snowflake.ID, processingErr *string, at time.Time) error
}

type Service interface {
	// HandleRise verifies, records, and applies one Rise callback. Safe under
	// redelivery and concurrent delivery.
	HandleRise(ctx context.Context, rawBody []byte, signature string) (Result, error)
}

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidJSON      = errors.New("invalid_json")
	ErrSecretNotSet     = errors.New("webhook_secret_not_configured")
)
