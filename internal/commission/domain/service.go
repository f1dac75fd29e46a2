package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

type BillingPeriod struct {
	Start *time.Time
	End   *time.Time
}

type RecordRequest struct {
	PartnerID      snowflake.ID
	AttributionID  snowflake.ID
	PaymentID      string
	InvoiceID      string
	SubscriptionID string
	// GrossAmount is in minor units.
	GrossAmount   int64
	Currency      string
	BillingPeriod BillingPeriod
}

type RecordResult struct {
	Entry Entry `json:"entry"`
	// Replayed is set when the payment already had an entry; Entry is that
	// original entry, unchanged.
	Replayed bool `json:"replayed"`
}

type ListEntryRequest struct {
	pagination.Pagination
	PartnerID snowflake.ID
	Status    Status
}

type ListEntryResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	RecordCommission(context.Context, RecordRequest) (RecordResult, error)
	// ReverseCommission returns false when no accrued entry exists for the payment.
	ReverseCommission(ctx context.Context, paymentID, reason string) (bool, error)
	GetByPayment(ctx context.Context, paymentID string) (Entry, error)
	ListByPartner(context.Context, ListEntryRequest) (ListEntryResponse, error)
	Summary(ctx context.Context, partnerID snowflake.ID) ([]CurrencySummary, error)
}

var (
	ErrNotFound            = errors.New("commission_not_found")
	ErrPartnerNotEligible  = errors.New("partner_not_eligible")
	ErrAttributionNotFound = errors.New("attribution_not_found")
	ErrAttributionMismatch = errors.New("attribution_partner_mismatch")
	ErrInvalidAmount       = errors.New("invalid_gross_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidPeriod       = errors.New("invalid_billing_period")
)
