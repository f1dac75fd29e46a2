package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/smallbiznis/referrals/internal/clock"
)

type AdapterConfig struct {
	Provider string
	Secret   string
	// Tolerance bounds the signature timestamp age.
	Tolerance time.Duration
	Clock     clock.Clock
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns ErrEventIgnored for event types the ledger does not consume.
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
