package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/referrals/attribute"),
		attribute.String("identity_id", "usr_1"),
		attribute.String("referral_code", "ACME1"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorFlattensWrappedErrors(t *testing.T) {
	base := errors.New("store unavailable")
	safe := SafeError(fmt.Errorf("attribute: %w", base))
	assert.EqualError(t, safe, "attribute: store unavailable")
	assert.False(t, errors.Is(safe, base))
	assert.NoError(t, SafeError(nil))
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(nil, Config{ServiceName: "referrals"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
}
