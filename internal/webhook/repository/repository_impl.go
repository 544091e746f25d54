package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/webhook/domain"
	"github.com/smallbiznis/disburse/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, gdb *gorm.DB, event *domain.Event) (bool, error) {
	if event == nil {
		return false, nil
	}
	result := gdb.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, payload,
			processed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.Processed,
		event.CreatedAt,
	)
	if result.Error != nil {
		// Engines without ON CONFLICT support surface the unique violation
		// directly; treat it the same as a conflict no-op.
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, gdb *gorm.DB, id snowflake.ID, transactionID *snowflake.ID, processingErr *string, at time.Time) error {
	return gdb.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processed_at = ?, transaction_id = ?, error = ?
		 WHERE id = ?`,
		true, at, transactionID, processingErr,
		id,
	).Error
}
