package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/attribution/repository"
	"github.com/smallbiznis/referrals/internal/attribution/service"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	partnerrepo "github.com/smallbiznis/referrals/internal/partner/repository"
	coderepo "github.com/smallbiznis/referrals/internal/referralcode/repository"
	codeservice "github.com/smallbiznis/referrals/internal/referralcode/service"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t)
	clk := storetest.Clock()
	node := storetest.Node(t)
	codes := codeservice.New(codeservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     coderepo.Provide(),
		Partners: partnerrepo.Provide(),
		Program:  config.NewStaticProgramConfigHolder(config.DefaultProgramConfig()),
	})
	svc := service.New(service.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Codes:    codes,
		Partners: partnerrepo.Provide(),
		Outbox:   events.NewOutbox(node, clk),
	})

	storetest.SeedPartner(t, db, 1, "acc_p", "active", "0.6")
	storetest.SeedPartner(t, db, 2, "acc_q", "active", "0.3")
	storetest.SeedCode(t, db, "ACME1", 1)
	storetest.SeedCode(t, db, "OTHER2", 2)
	return svc, db
}

func TestAttributeFirstWins(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	first, err := svc.Attribute(ctx, domain.AttributeRequest{
		IdentityID: "user_u",
		Code:       "acme1",
		Metadata:   domain.Metadata{Source: "banner", LandingPath: "/pricing"},
	})
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, domain.ReasonAttributed, first.Reason)
	assert.Equal(t, int64(1), int64(*first.PartnerID))
	assert.True(t, first.CommissionRate.Equal(decimal.RequireFromString("0.6")))
	require.NotNil(t, first.AttributionID)

	for _, code := range []string{"ACME1", "OTHER2"} {
		again, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_u", Code: code})
		require.NoError(t, err)
		assert.False(t, again.Success)
		assert.Equal(t, domain.ReasonAlreadyAttributed, again.Reason)
		assert.Nil(t, again.PartnerID)
	}

	stored, err := svc.GetByIdentity(ctx, "user_u")
	require.NoError(t, err)
	assert.Equal(t, *first.AttributionID, stored.ID)
	assert.Equal(t, int64(1), int64(stored.PartnerID))
	assert.Equal(t, domain.StatusSignup, stored.Status)
	assert.Equal(t, "banner", stored.Metadata["source"])
	assert.Equal(t, storetest.Epoch.Format(time.RFC3339), stored.Metadata["captured_at"])

	assert.Equal(t, int64(1), storetest.Count(t, db, "attributions", "identity_id = ?", "user_u"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND total_referrals = 1"))
	assert.Equal(t, int64(0), storetest.Count(t, db, "partners", "id = 2 AND total_referrals <> 0"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "referral_codes", "code = 'ACME1' AND usage_count = 1"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "outbox_events", "event_type = ?", events.EventAttributionCreated))
}

func TestAttributeInvalidCodeIsAResult(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	res, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_u", Code: "NOPE"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonInvalidCode, res.Reason)

	require.NoError(t, db.Exec(`UPDATE referral_codes SET active = ? WHERE code = 'OTHER2'`, false).Error)
	res, err = svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_u", Code: "OTHER2"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonInvalidCode, res.Reason)

	assert.Equal(t, int64(0), storetest.Count(t, db, "attributions", ""))
}

func TestAttributeSelfReferral(t *testing.T) {
	svc, db := newService(t)

	res, err := svc.Attribute(context.Background(), domain.AttributeRequest{IdentityID: "acc_p", Code: "ACME1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonSelfReferral, res.Reason)
	assert.Equal(t, int64(0), storetest.Count(t, db, "attributions", ""))
}

func TestAttributeRequiresIdentity(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Attribute(context.Background(), domain.AttributeRequest{IdentityID: " ", Code: "ACME1"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestRateSnapshotSurvivesPartnerRateChange(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	_, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_u", Code: "ACME1"})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`UPDATE partners SET commission_rate = '0.1' WHERE id = 1`).Error)

	stored, err := svc.GetByIdentity(ctx, "user_u")
	require.NoError(t, err)
	assert.True(t, stored.CommissionRate.Equal(decimal.RequireFromString("0.6")))

	next, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_v", Code: "ACME1"})
	require.NoError(t, err)
	assert.True(t, next.CommissionRate.Equal(decimal.RequireFromString("0.1")))
}

func TestBestEffortSwallowsStoreFailure(t *testing.T) {
	svc, db := newService(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	res := svc.AttributeBestEffort(context.Background(), domain.AttributeRequest{IdentityID: "user_u", Code: "ACME1"})
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonUnavailable, res.Reason)
}

func TestListByPartner(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: id, Code: "ACME1"})
		require.NoError(t, err)
	}
	_, err := svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "u4", Code: "OTHER2"})
	require.NoError(t, err)

	page, err := svc.ListByPartner(ctx, domain.ListAttributionRequest{PartnerID: 1, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, page.Attributions, 2)
	assert.True(t, page.HasMore)

	rest, err := svc.ListByPartner(ctx, domain.ListAttributionRequest{PartnerID: 1, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, rest.Attributions, 1)

	_, err = svc.ListByPartner(ctx, domain.ListAttributionRequest{})
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestAttributeConcurrentCallsCreateOneRecord(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	const workers = 20
	results := make([]domain.Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := "ACME1"
			if i%2 == 1 {
				code = "OTHER2"
			}
			results[i], errs[i] = svc.Attribute(ctx, domain.AttributeRequest{IdentityID: "user_race", Code: code})
		}(i)
	}
	wg.Wait()

	var winner *domain.Result
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Success {
			require.Nil(t, winner, "more than one attribution succeeded")
			winner = &results[i]
			continue
		}
		assert.Equal(t, domain.ReasonAlreadyAttributed, results[i].Reason)
	}
	require.NotNil(t, winner)
	assert.Equal(t, int64(1), storetest.Count(t, db, "attributions", "identity_id = ?", "user_race"))
	assert.Equal(t, int64(1), storetest.Count(t, db, "attributions", "identity_id = ? AND partner_id = ?", "user_race", int64(*winner.PartnerID)))
}
