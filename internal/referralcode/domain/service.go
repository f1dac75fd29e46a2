package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RegisterRequest struct {
	PartnerID   snowflake.ID
	Code        string
	Description string
}

type Service interface {
	Register(context.Context, RegisterRequest) (Code, error)
	// SuggestCode derives a candidate from a display name. It does not reserve it.
	SuggestCode(displayName string) string
	// Resolve returns ErrNotFound for unknown and disabled codes alike.
	Resolve(ctx context.Context, code string) (Resolution, error)
	Inspect(ctx context.Context, code string) (Inspection, error)
	Disable(ctx context.Context, code string) (Code, error)
	RecordUse(ctx context.Context, code string) error
	ListByPartner(ctx context.Context, partnerID snowflake.ID) ([]Code, error)
}

var (
	ErrInvalidFormat    = errors.New("invalid_code_format")
	ErrReserved         = errors.New("code_reserved")
	ErrAlreadyExists    = errors.New("code_already_exists")
	ErrPartnerNotActive = errors.New("partner_not_active")
	ErrNotFound         = errors.New("code_not_found")
)
