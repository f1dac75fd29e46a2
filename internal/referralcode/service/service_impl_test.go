package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/internal/config"
	partnerrepo "github.com/smallbiznis/referrals/internal/partner/repository"
	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/internal/referralcode/repository"
	"github.com/smallbiznis/referrals/internal/referralcode/service"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t)
	svc := service.New(service.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    storetest.Clock(),
		Repo:     repository.Provide(),
		Partners: partnerrepo.Provide(),
		Program:  config.NewStaticProgramConfigHolder(config.DefaultProgramConfig()),
	})
	return svc, db
}

func TestRegister(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	storetest.SeedPartner(t, db, 1, "acc_1", "active", "0.6")
	storetest.SeedPartner(t, db, 2, "acc_2", "pending", "0.2")

	code, err := svc.Register(ctx, domain.RegisterRequest{PartnerID: 1, Code: " acme1 ", Description: "newsletter"})
	require.NoError(t, err)
	assert.Equal(t, "ACME1", code.Code)
	assert.True(t, code.Active)
	require.NotNil(t, code.Description)

	cases := []struct {
		name    string
		req     domain.RegisterRequest
		wantErr error
	}{
		{"too short", domain.RegisterRequest{PartnerID: 1, Code: "AB"}, domain.ErrInvalidFormat},
		{"too long", domain.RegisterRequest{PartnerID: 1, Code: "ABCDEFGHIJKLMNOPQRSTU"}, domain.ErrInvalidFormat},
		{"symbols", domain.RegisterRequest{PartnerID: 1, Code: "ACME-1"}, domain.ErrInvalidFormat},
		{"non ascii", domain.RegisterRequest{PartnerID: 1, Code: "ÄCME"}, domain.ErrInvalidFormat},
		{"reserved any case", domain.RegisterRequest{PartnerID: 1, Code: "Admin"}, domain.ErrReserved},
		{"duplicate other case", domain.RegisterRequest{PartnerID: 1, Code: "Acme1"}, domain.ErrAlreadyExists},
		{"pending partner", domain.RegisterRequest{PartnerID: 2, Code: "PENDING1"}, domain.ErrPartnerNotActive},
		{"missing partner", domain.RegisterRequest{PartnerID: 99, Code: "GHOST1"}, domain.ErrPartnerNotActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Equal(t, int64(1), storetest.Count(t, db, "referral_codes", ""))
}

func TestResolveTreatsDisabledAsNotFound(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	storetest.SeedPartner(t, db, 1, "acc_1", "active", "0.6")
	storetest.SeedCode(t, db, "ACME1", 1)

	res, err := svc.Resolve(ctx, "acme1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), int64(res.PartnerID))
	assert.True(t, res.CommissionRate.Equal(decimal.RequireFromString("0.6")))
	assert.True(t, res.Active)
	assert.Equal(t, "acc_1", res.PartnerAccount)

	_, err = svc.Resolve(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Resolve(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	disabled, err := svc.Disable(ctx, "ACME1")
	require.NoError(t, err)
	assert.False(t, disabled.Active)
	assert.NotNil(t, disabled.DisabledAt)
	again, err := svc.Disable(ctx, "acme1")
	require.NoError(t, err)
	assert.Equal(t, disabled.DisabledAt, again.DisabledAt)

	_, err = svc.Resolve(ctx, "ACME1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	inspection, err := svc.Inspect(ctx, "ACME1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisabled, inspection.State)
	_, err = svc.Inspect(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Disable(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveRequiresActivePartner(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	storetest.SeedPartner(t, db, 1, "acc_1", "suspended", "0.6")
	storetest.SeedCode(t, db, "ACME1", 1)

	_, err := svc.Resolve(ctx, "ACME1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	inspection, err := svc.Inspect(ctx, "ACME1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePartnerInactive, inspection.State)
	assert.Equal(t, "suspended", inspection.PartnerStatus)
}

func TestRecordUseIncrements(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	storetest.SeedPartner(t, db, 1, "acc_1", "active", "0.6")
	storetest.SeedCode(t, db, "ACME1", 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordUse(ctx, "acme1"))
	}
	assert.ErrorIs(t, svc.RecordUse(ctx, "NOPE"), domain.ErrNotFound)

	codes, err := svc.ListByPartner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, int64(5), codes[0].UsageCount)
	assert.NotNil(t, codes[0].LastUsedAt)
}

func TestSuggestCode(t *testing.T) {
	svc, _ := newService(t)

	assert.Equal(t, "ACMEMEDIA", svc.SuggestCode("Acme Media!"))
	assert.Equal(t, "CAFEMULLER", svc.SuggestCode("Café Müller"))
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRST", svc.SuggestCode("abcdefghij klmnopqrst uvwxyz"))
	assert.Equal(t, "JOX", svc.SuggestCode("Jo"))
	assert.Equal(t, "ADMIN1", svc.SuggestCode("admin"))
}
