package signup

import (
	"context"
	"strings"

	"github.com/smallbiznis/referrals/internal/events"
	"github.com/smallbiznis/referrals/internal/signup/domain"
	"gorm.io/gorm"
)

type noopProvisioner struct{}

func NewNoopProvisioner() domain.Provisioner {
	return &noopProvisioner{}
}

func (p *noopProvisioner) Provision(ctx context.Context, identityID string) error {
	_ = ctx
	_ = identityID
	return nil
}

type EventProvisioner struct {
	db     *gorm.DB
	outbox *events.Outbox
}

func NewEventProvisioner(db *gorm.DB, outbox *events.Outbox) domain.Provisioner {
	return &EventProvisioner{
		db:     db,
		outbox: outbox,
	}
}

func (p *EventProvisioner) Provision(ctx context.Context, identityID string) error {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return domain.ErrInvalidRequest
	}

	return p.outbox.PublishTx(ctx, p.db, events.Event{
		Type:          events.EventIdentitySignedUp,
		AggregateType: "identity",
		AggregateID:   identityID,
		Payload: map[string]any{
			"identity_id": identityID,
		},
	})
}
