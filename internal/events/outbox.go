package events

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/clock"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidEvent = errors.New("invalid_event")

// Outbox appends events inside the caller's transaction so they exist iff
// the state change committed.
type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{genID: genID, clock: clk}
}

// PublishTx inserts evt using tx. Publishing the same dedupe key twice is a no-op.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt Event) error {
	if o == nil {
		return nil
	}
	evt.Type = strings.TrimSpace(evt.Type)
	if evt.Type == "" || strings.TrimSpace(evt.AggregateID) == "" {
		return ErrInvalidEvent
	}
	dedupeKey := strings.TrimSpace(evt.DedupeKey)
	if dedupeKey == "" {
		dedupeKey = evt.Type + ":" + evt.AggregateID
	}
	payload := datatypes.JSONMap{}
	for k, v := range evt.Payload {
		payload[k] = v
	}

	now := o.clock.Now()
	_, err := referralsdb.InsertIgnoring(ctx, tx,
		`INSERT INTO outbox_events (
			id, event_type, aggregate_type, aggregate_id, dedupe_key, payload,
			attempts, available_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		"dedupe_key",
		o.genID.Generate(),
		evt.Type,
		evt.AggregateType,
		evt.AggregateID,
		dedupeKey,
		payload,
		now,
		now,
	)
	return err
}
