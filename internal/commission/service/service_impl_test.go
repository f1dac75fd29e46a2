package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	attributionrepo "github.com/smallbiznis/referrals/internal/attribution/repository"
	"github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/internal/commission/repository"
	"github.com/smallbiznis/referrals/internal/commission/service"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	partnerrepo "github.com/smallbiznis/referrals/internal/partner/repository"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/smallbiznis/referrals/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T, program config.ProgramConfig) (domain.Service, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t)
	clk := storetest.Clock()
	node := storetest.Node(t)
	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         repository.Provide(),
		Attributions: attributionrepo.Provide(),
		Partners:     partnerrepo.Provide(),
		Program:      config.NewStaticProgramConfigHolder(program),
		Outbox:       events.NewOutbox(node, clk),
	})
	storetest.SeedPartner(t, db, 1, "acc_p", "active", "0.6")
	storetest.SeedCode(t, db, "ACME1", 1)
	storetest.SeedAttribution(t, db, 10, "user_u", 1, "ACME1", "0.6", "converted")
	return svc, db
}

func record(paymentID string, gross int64) domain.RecordRequest {
	return domain.RecordRequest{
		PartnerID:     1,
		AttributionID: 10,
		PaymentID:     paymentID,
		GrossAmount:   gross,
		Currency:      "usd",
	}
}

func TestRecordReplayAndReverse(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	first, err := svc.RecordCommission(ctx, record("pay_1", 800))
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(480), first.Entry.CommissionAmount)
	assert.Equal(t, domain.StatusAccrued, first.Entry.Status)
	assert.Equal(t, "USD", first.Entry.Currency)
	assert.True(t, first.Entry.Payable)

	again, err := svc.RecordCommission(ctx, record("pay_1", 800))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)

	different, err := svc.RecordCommission(ctx, record("pay_1", 99999))
	require.NoError(t, err)
	assert.True(t, different.Replayed)
	assert.Equal(t, int64(480), different.Entry.CommissionAmount)

	assert.Equal(t, int64(1), storetest.Count(t, db, "commission_entries", "payment_id = ?", "pay_1"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND commission_earned = 480"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "outbox_events", "event_type = ?", events.EventCommissionAccrued))

	reversed, err := svc.ReverseCommission(ctx, "pay_1", "refund")
	require.NoError(t, err)
	assert.True(t, reversed)

	entry, err := svc.GetByPayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReversed, entry.Status)
	require.NotNil(t, entry.ReversalReason)
	assert.Equal(t, "refund", *entry.ReversalReason)
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND commission_earned = 0 AND commission_reversed = 480"))

	reversed, err = svc.ReverseCommission(ctx, "pay_1", "refund")
	require.NoError(t, err)
	assert.False(t, reversed)

	reversed, err = svc.ReverseCommission(ctx, "pay_missing", "refund")
	require.NoError(t, err)
	assert.False(t, reversed)
}

func TestReversePaidFails(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	_, err := svc.RecordCommission(ctx, record("pay_1", 1000))
	require.NoError(t, err)
	require.NoError(t, db.Exec(`UPDATE commission_entries SET status = 'paid' WHERE payment_id = 'pay_1'`).Error)

	reversed, err := svc.ReverseCommission(ctx, "pay_1", "chargeback")
	require.NoError(t, err)
	assert.False(t, reversed)

	entry, err := svc.GetByPayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, entry.Status)
	assert.Nil(t, entry.ReversedAt)
}

func TestUsesAttributionSnapshotNotLiveRate(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	require.NoError(t, db.Exec(`UPDATE partners SET commission_rate = '0.1' WHERE id = 1`).Error)

	res, err := svc.RecordCommission(context.Background(), record("pay_1", 800))
	require.NoError(t, err)
	assert.Equal(t, int64(480), res.Entry.CommissionAmount)
	assert.True(t, res.Entry.CommissionRate.Equal(decimal.RequireFromString("0.6")))
}

func TestEligibilityPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("suspended accrues held", func(t *testing.T) {
		svc, db := newService(t, config.DefaultProgramConfig())
		require.NoError(t, db.Exec(`UPDATE partners SET status = 'suspended' WHERE id = 1`).Error)
		res, err := svc.RecordCommission(ctx, record("pay_1", 1000))
		require.NoError(t, err)
		assert.False(t, res.Entry.Payable)

		summary, err := svc.Summary(ctx, 1)
		require.NoError(t, err)
		require.Len(t, summary, 1)
		assert.Equal(t, int64(600), summary[0].Held)
		assert.Equal(t, int64(0), summary[0].Accrued)
	})

	t.Run("suspended refused when disabled", func(t *testing.T) {
		program := config.DefaultProgramConfig()
		program.SuspendedAccrues = false
		svc, db := newService(t, program)
		require.NoError(t, db.Exec(`UPDATE partners SET status = 'suspended' WHERE id = 1`).Error)
		_, err := svc.RecordCommission(ctx, record("pay_1", 1000))
		assert.ErrorIs(t, err, domain.ErrPartnerNotEligible)
	})

	for _, status := range []string{"terminated", "inactive", "pending"} {
		t.Run(status, func(t *testing.T) {
			svc, db := newService(t, config.DefaultProgramConfig())
			require.NoError(t, db.Exec(`UPDATE partners SET status = ? WHERE id = 1`, status).Error)
			_, err := svc.RecordCommission(ctx, record("pay_1", 1000))
			assert.ErrorIs(t, err, domain.ErrPartnerNotEligible)
			assert.Equal(t, int64(0), storetest.Count(t, db, "commission_entries", ""))
		})
	}
}

func TestRecordValidation(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()
	storetest.SeedPartner(t, db, 2, "acc_q", "active", "0.3")

	_, err := svc.RecordCommission(ctx, record("", 100))
	assert.ErrorIs(t, err, validation.ErrInvalid)
	_, err = svc.RecordCommission(ctx, record("pay_1", -1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.RecordCommission(ctx, record("pay_1", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	req := record("pay_1", 100)
	req.Currency = "US"
	_, err = svc.RecordCommission(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	req = record("pay_1", 100)
	req.AttributionID = 999
	_, err = svc.RecordCommission(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAttributionNotFound)

	req = record("pay_1", 100)
	req.PartnerID = 2
	_, err = svc.RecordCommission(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAttributionMismatch)

	assert.Equal(t, int64(0), storetest.Count(t, db, "commission_entries", ""))
}

func TestListAndSummary(t *testing.T) {
	svc, _ := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	for i, gross := range []int64{100, 200, 300} {
		_, err := svc.RecordCommission(ctx, record(fmt.Sprintf("pay_%d", i), gross))
		require.NoError(t, err)
	}
	eur := record("pay_eur", 1000)
	eur.Currency = "eur"
	_, err := svc.RecordCommission(ctx, eur)
	require.NoError(t, err)
	_, err = svc.ReverseCommission(ctx, "pay_0", "refund")
	require.NoError(t, err)

	page, err := svc.ListByPartner(ctx, domain.ListEntryRequest{PartnerID: 1, Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.True(t, page.HasMore)

	reversed, err := svc.ListByPartner(ctx, domain.ListEntryRequest{PartnerID: 1, Status: domain.StatusReversed})
	require.NoError(t, err)
	require.Len(t, reversed.Entries, 1)
	assert.Equal(t, "pay_0", reversed.Entries[0].PaymentID)

	summary, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, domain.CurrencySummary{Currency: "EUR", Accrued: 600, Entries: 1}, summary[0])
	assert.Equal(t, domain.CurrencySummary{Currency: "USD", Accrued: 300, Reversed: 60, Entries: 3}, summary[1])
}

func TestRecordedAmountMatchesSnapshotArithmetic(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 40
	properties := gopter.NewProperties(params)

	var seq int64
	properties.Property("amount equals round(gross x snapshot)", prop.ForAll(
		func(gross int64, micros int64) bool {
			seq++
			attributionID := 1000 + seq
			rate := decimal.New(micros, -6)
			storetest.SeedAttribution(t, db, attributionID, fmt.Sprintf("prop_%d", seq), 1, "ACME1", rate.String(), "converted")

			res, err := svc.RecordCommission(ctx, domain.RecordRequest{
				PartnerID:     1,
				AttributionID: snowflake.ID(attributionID),
				PaymentID:     fmt.Sprintf("prop_pay_%d", seq),
				GrossAmount:   gross,
				Currency:      "usd",
			})
			if err != nil {
				return false
			}
			replay, err := svc.RecordCommission(ctx, domain.RecordRequest{
				PartnerID:     1,
				AttributionID: snowflake.ID(attributionID),
				PaymentID:     fmt.Sprintf("prop_pay_%d", seq),
				GrossAmount:   gross + 1,
				Currency:      "usd",
			})
			if err != nil {
				return false
			}
			return res.Entry.CommissionAmount == money.Commission(gross, rate) &&
				replay.Replayed && replay.Entry.CommissionAmount == res.Entry.CommissionAmount
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(1, 999_999),
	))
	properties.TestingRun(t)
}

func TestRecordConcurrentDeliveriesKeepFirstAmount(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	const workers = 20
	results := make([]domain.RecordResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.RecordCommission(ctx, record("pay_race", int64(1000+i)))
		}(i)
	}
	wg.Wait()

	var winner *domain.Entry
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			require.Nil(t, winner, "more than one delivery recorded an entry")
			winner = &results[i].Entry
		}
	}
	require.NotNil(t, winner)
	for i := range results {
		assert.Equal(t, winner.ID, results[i].Entry.ID)
		assert.Equal(t, winner.GrossAmount, results[i].Entry.GrossAmount)
	}

	assert.Equal(t, int64(1), storetest.Count(t, db, "commission_entries", "payment_id = ?", "pay_race"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "commission_entries", "payment_id = ? AND gross_amount = ? AND commission_amount = ?",
		"pay_race", winner.GrossAmount, money.Commission(winner.GrossAmount, decimal.RequireFromString("0.6"))))
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = ? AND commission_earned = ?", 1, winner.CommissionAmount))
}

func TestPartnerAggregatesCountStatsCurrencyOnly(t *testing.T) {
	svc, db := newService(t, config.DefaultProgramConfig())
	ctx := context.Background()

	_, err := svc.RecordCommission(ctx, record("pay_usd", 1000))
	require.NoError(t, err)
	eur := record("pay_eur", 5000)
	eur.Currency = "eur"
	res, err := svc.RecordCommission(ctx, eur)
	require.NoError(t, err)
	assert.Equal(t, "EUR", res.Entry.Currency)
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND commission_earned = 600"))

	reversed, err := svc.ReverseCommission(ctx, "pay_eur", "refund")
	require.NoError(t, err)
	assert.True(t, reversed)
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND commission_earned = 600 AND commission_reversed = 0"))
}
