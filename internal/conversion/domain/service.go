package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ConvertRequest struct {
	IdentityID string
	PaymentID  string
	// ConversionValue is in minor units.
	ConversionValue int64
	Currency        string
}

type SubscribeRequest struct {
	IdentityID     string
	SubscriptionID string
	PlanID         string
}

type Service interface {
	// MarkConverted advances a signup-stage attribution. It returns false if
	// the identity has no attribution in that stage.
	MarkConverted(context.Context, ConvertRequest) (bool, error)
	// MarkSubscribed requires a converted or subscribed attribution and never
	// backfills the conversion stage.
	MarkSubscribed(context.Context, SubscribeRequest) (bool, error)
}

type ConvertFields struct {
	PaymentID        string
	ConversionValue  int64
	Currency         string
	CommissionEarned int64
	At               time.Time
}

type SubscribeFields struct {
	SubscriptionID string
	PlanID         string
	At             time.Time
}

// Repository owns funnel-stage writes on attributions.
type Repository interface {
	MarkConverted(ctx context.Context, db *gorm.DB, attributionID snowflake.ID, fields ConvertFields) (bool, error)
	MarkSubscribed(ctx context.Context, db *gorm.DB, identityID string, fields SubscribeFields) (bool, error)
}

var (
	ErrInvalidValue    = errors.New("invalid_conversion_value")
	ErrInvalidCurrency = errors.New("invalid_currency")
)
