package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

type CreateBatchRequest struct {
	Currency  string
	CreatedBy string
}

type ListBatchRequest struct {
	pagination.Pagination
	Status Status
}

type ListBatchResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"batches"`
}

type Service interface {
	// CreateBatch groups payable accrued entries of active partners whose
	// balance reaches the program minimum.
	CreateBatch(context.Context, CreateBatchRequest) (BatchDetail, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (BatchDetail, error)
	Get(ctx context.Context, id snowflake.ID) (BatchDetail, error)
	List(context.Context, ListBatchRequest) (ListBatchResponse, error)
}

var (
	ErrNotFound          = errors.New("payout_batch_not_found")
	ErrNothingToPay      = errors.New("nothing_to_pay")
	ErrBatchInProgress   = errors.New("payout_batch_in_progress")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidCurrency   = errors.New("invalid_currency")
)
