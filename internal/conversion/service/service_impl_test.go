package service_test

import (
	"context"
	"testing"
	"time"

	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	attributionrepo "github.com/smallbiznis/referrals/internal/attribution/repository"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/conversion/domain"
	"github.com/smallbiznis/referrals/internal/conversion/repository"
	"github.com/smallbiznis/referrals/internal/conversion/service"
	"github.com/smallbiznis/referrals/internal/events"
	partnerrepo "github.com/smallbiznis/referrals/internal/partner/repository"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := storetest.Open(t)
	clk := storetest.Clock()
	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clk,
		Repo:         repository.Provide(),
		Attributions: attributionrepo.Provide(),
		Partners:     partnerrepo.Provide(),
		Outbox:       events.NewOutbox(storetest.Node(t), clk),
	})
	storetest.SeedPartner(t, db, 1, "acc_p", "active", "0.6")
	storetest.SeedCode(t, db, "ACME1", 1)
	storetest.SeedAttribution(t, db, 10, "user_u", 1, "ACME1", "0.6", "signup")
	return svc, db, clk
}

func load(t *testing.T, db *gorm.DB, identity string) *attributiondomain.Attribution {
	t.Helper()
	a, err := attributionrepo.Provide().FindByIdentity(context.Background(), db, identity)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestFunnelAdvancesForwardOnly(t *testing.T) {
	svc, db, clk := newService(t)
	ctx := context.Background()

	ok, err := svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "pay_1", ConversionValue: 800, Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, ok)

	a := load(t, db, "user_u")
	assert.Equal(t, attributiondomain.StatusConverted, a.Status)
	require.NotNil(t, a.CommissionEarned)
	assert.Equal(t, int64(480), *a.CommissionEarned)
	assert.Equal(t, "USD", *a.Currency)
	require.NotNil(t, a.ConvertedAt)
	assert.Equal(t, int64(1), storetest.Count(t, db, "partners", "id = 1 AND total_conversions = 1"))

	// second payment does not reconvert
	ok, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "pay_2", ConversionValue: 5000, Currency: "usd"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "pay_1", *load(t, db, "user_u").PaymentID)

	clk.Advance(time.Second)
	ok, err = svc.MarkSubscribed(ctx, domain.SubscribeRequest{IdentityID: "user_u", SubscriptionID: "sub_1", PlanID: "pro"})
	require.NoError(t, err)
	assert.True(t, ok)
	first := load(t, db, "user_u")
	assert.Equal(t, attributiondomain.StatusSubscribed, first.Status)
	require.NotNil(t, first.SubscribedAt)

	clk.Advance(time.Second)
	ok, err = svc.MarkSubscribed(ctx, domain.SubscribeRequest{IdentityID: "user_u", SubscriptionID: "sub_1", PlanID: "pro"})
	require.NoError(t, err)
	assert.True(t, ok)
	again := load(t, db, "user_u")
	assert.Equal(t, first.SubscribedAt.Unix(), again.SubscribedAt.Unix())

	ok, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "pay_3", ConversionValue: 1, Currency: "usd"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, attributiondomain.StatusSubscribed, load(t, db, "user_u").Status)
	assert.Equal(t, int64(1), storetest.Count(t, db, "outbox_events", "event_type = ?", events.EventAttributionConverted))
}

func TestSubscribeWithoutConversionIsNoop(t *testing.T) {
	svc, db, _ := newService(t)

	ok, err := svc.MarkSubscribed(context.Background(), domain.SubscribeRequest{IdentityID: "user_u", SubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.False(t, ok)

	a := load(t, db, "user_u")
	assert.Equal(t, attributiondomain.StatusSignup, a.Status)
	assert.Nil(t, a.ConvertedAt)
	assert.Nil(t, a.SubscriptionID)
}

func TestUntrackedIdentity(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	ok, err := svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "stranger", PaymentID: "pay_1", ConversionValue: 100, Currency: "usd"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.MarkSubscribed(ctx, domain.SubscribeRequest{IdentityID: "stranger", SubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConvertValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.MarkConverted(ctx, domain.ConvertRequest{PaymentID: "pay_1", Currency: "usd"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
	_, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", Currency: "usd"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
	_, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "p", ConversionValue: -1, Currency: "usd"})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
	_, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "p", ConversionValue: 0, Currency: "usd"})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
	_, err = svc.MarkConverted(ctx, domain.ConvertRequest{IdentityID: "user_u", PaymentID: "p", ConversionValue: 100, Currency: "dollars"})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
	_, err = svc.MarkSubscribed(ctx, domain.SubscribeRequest{IdentityID: "user_u"})
	assert.ErrorIs(t, err, validation.ErrInvalid)
}
