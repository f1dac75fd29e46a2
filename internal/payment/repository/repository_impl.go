package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/payment/domain"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payment_id, identity_id,
			amount, currency, payload, received_at, processed_at, last_error
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	return referralsdb.InsertIgnoring(ctx, db,
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, payment_id, identity_id,
			amount, currency, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"provider, provider_event_id",
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.PaymentID,
		event.IdentityID,
		event.Amount,
		event.Currency,
		event.Payload,
		event.ReceivedAt,
	)
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, last_error = NULL
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, cause string) error {
	if len(cause) > maxErrorLength {
		cause = cause[:maxErrorLength]
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET last_error = ? WHERE id = ?`,
		cause,
		id,
	).Error
}
