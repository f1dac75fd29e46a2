package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
	authservice "github.com/smallbiznis/referrals/internal/auth/service"
	"github.com/smallbiznis/referrals/internal/authorization"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/observability"
	"github.com/smallbiznis/referrals/internal/payment"
	"github.com/smallbiznis/referrals/internal/payment/adapters/stripe"
	paymentrepo "github.com/smallbiznis/referrals/internal/payment/repository"
	"github.com/smallbiznis/referrals/internal/payment/webhook"
	"github.com/smallbiznis/referrals/internal/servicetest"
	"github.com/smallbiznis/referrals/internal/signup"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret     = "jwt-secret"
	testWebhookSecret = "whsec_test"
	adminSubject      = "idn_admin"
)

type testServer struct {
	stack    *servicetest.Stack
	engine   *gin.Engine
	verifier *authservice.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stack := servicetest.New(t, config.DefaultProgramConfig())
	cfg := config.Config{
		AdminIdentities: []string{adminSubject},
		Webhook:         config.WebhookConfig{StripeSecret: testWebhookSecret},
	}
	log := zap.NewNop()

	verifier := authservice.NewVerifier(testJWTSecret, "", stack.Clock)
	enforcer, err := authorization.ProvideEnforcer(authorization.EnforcerParams{DB: stack.DB, Config: cfg, Log: log})
	require.NoError(t, err)

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            cfg,
		Verifier:       verifier,
		AuthzSvc:       authorization.NewService(authorization.Params{DB: stack.DB, Log: log, Enforcer: enforcer, AuditSvc: stack.Audit}),
		AuditSvc:       stack.Audit,
		PartnerSvc:     stack.Partners,
		CodeSvc:        stack.Codes,
		AttributionSvc: stack.Attributions,
		CommissionSvc:  stack.Commissions,
		PayoutSvc:      stack.Payouts,
		PaymentSvc: webhook.NewService(webhook.Params{
			DB: stack.DB, Log: log, GenID: stack.Node, Clock: stack.Clock,
			Repo: paymentrepo.Provide(), Adapters: payment.NewRegistry(cfg, stack.Clock, log),
			Attributions: stack.Attributions, Conversions: stack.Conversions, Commissions: stack.Commissions,
		}),
		SignupSvc: signup.NewService(signup.Params{
			Log: log, Attributions: stack.Attributions, Provisioner: signup.NewNoopProvisioner(),
		}),
	})

	return &testServer{stack: stack, engine: engine, verifier: verifier}
}

func (ts *testServer) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	raw, err := ts.verifier.Issue(authdomain.Identity{Subject: subject, Email: subject + "@example.com", Roles: roles}, time.Hour)
	require.NoError(t, err)
	return raw
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	payload, _ := decode(t, rec)["error"].(map[string]any)
	typ, _ := payload["type"].(string)
	return typ
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(t, rec))
}

func TestLookupCode(t *testing.T) {
	ts := newTestServer(t)
	storetest.SeedPartner(t, ts.stack.DB, 1, "acct-1", "active", "0.2")
	storetest.SeedCode(t, ts.stack.DB, "ALICE", 1)

	rec := ts.do(t, http.MethodGet, "/api/referrals/codes/alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"valid": true}, decode(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/referrals/codes/NOPE", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"valid": false}, decode(t, rec))
}

func TestAttributeEndpoint(t *testing.T) {
	ts := newTestServer(t)
	storetest.SeedPartner(t, ts.stack.DB, 1, "acct-1", "active", "0.2")
	storetest.SeedCode(t, ts.stack.DB, "ALICE", 1)

	rec := ts.do(t, http.MethodPost, "/api/referrals/attribute", "", gin.H{"code": "ALICE"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := ts.token(t, "user-1")
	rec = ts.do(t, http.MethodPost, "/api/referrals/attribute", token, gin.H{"identity_id": "user-2", "code": "ALICE"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/referrals/attribute", token, gin.H{"code": "ALICE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["success"])

	rec = ts.do(t, http.MethodPost, "/api/referrals/attribute", token, gin.H{"code": "ALICE"})
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, "already_attributed", data["reason"])
}

func TestSignupCompleteEndpoint(t *testing.T) {
	ts := newTestServer(t)
	storetest.SeedPartner(t, ts.stack.DB, 1, "acct-1", "active", "0.2")
	storetest.SeedCode(t, ts.stack.DB, "ALICE", 1)

	rec := ts.do(t, http.MethodPost, "/api/signup/complete", ts.token(t, "user-1"), gin.H{"referral_code": "BOGUS"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "user-1", data["identity_id"])
	referral := data["referral"].(map[string]any)
	assert.Equal(t, "invalid_code", referral["reason"])
}

func TestPartnerLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	partnerToken := ts.token(t, "acct-new")
	adminToken := ts.token(t, adminSubject)

	rec := ts.do(t, http.MethodPost, "/api/partners", partnerToken, gin.H{"display_name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	partner := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "pending", partner["status"])
	assert.Equal(t, "acct-new@example.com", partner["email"])
	id := partner["id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/partners", partnerToken, gin.H{"display_name": "Jane Doe"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/partners/me/codes", partnerToken, gin.H{"code": "JANE"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/partners/"+id+"/approve", partnerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/partners/"+id+"/approve", adminToken, gin.H{"note": "looks good"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decode(t, rec)["data"].(map[string]any)["status"])

	rec = ts.do(t, http.MethodPost, "/api/partners/me/codes", partnerToken, gin.H{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["data"].(map[string]any)["code"])

	rec = ts.do(t, http.MethodGet, "/api/partners/me/codes", partnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = ts.do(t, http.MethodPatch, "/admin/partners/"+id+"/rate", adminToken, gin.H{"commission_rate": "1.5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/partners/"+id+"/suspend", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/admin/partners/"+id+"/suspend", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/partners/not-a-number", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/partners/me/commissions?status=bogus", partnerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/audit_logs?target_type=partner", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPartnerApplyIgnoresRequestedRate(t *testing.T) {
	ts := newTestServer(t)
	partnerToken := ts.token(t, "acct-greedy")

	rec := ts.do(t, http.MethodPost, "/api/partners", partnerToken, gin.H{"display_name": "Greedy", "commission_rate": "0.99"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["data"].(map[string]any)["id"].(string)

	rec = ts.do(t, http.MethodPost, "/admin/partners/"+id+"/approve", ts.token(t, adminSubject), gin.H{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	partner := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "active", partner["status"])
	rate, _ := partner["commission_rate"].(string)
	assert.True(t, decimal.RequireFromString(rate).Equal(decimal.RequireFromString("0.2")), rate)
}

func TestPartnerDisablesOwnCode(t *testing.T) {
	ts := newTestServer(t)
	storetest.SeedPartner(t, ts.stack.DB, 1, "acct-1", "active", "0.2")
	storetest.SeedPartner(t, ts.stack.DB, 2, "acct-2", "active", "0.2")
	storetest.SeedCode(t, ts.stack.DB, "ALICE", 1)
	storetest.SeedCode(t, ts.stack.DB, "BOBBY", 2)
	token := ts.token(t, "acct-1")

	rec := ts.do(t, http.MethodPost, "/api/partners/me/codes/bobby/disable", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(1), storetest.Count(t, ts.stack.DB, "referral_codes", "code = ? AND active = ?", "BOBBY", true))

	rec = ts.do(t, http.MethodPost, "/api/partners/me/codes/NOPE/disable", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/partners/me/codes/alice/disable", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["data"].(map[string]any)["active"])

	rec = ts.do(t, http.MethodGet, "/api/referrals/codes/ALICE", "", nil)
	assert.Equal(t, map[string]any{"valid": false}, decode(t, rec))
}

func TestRoleClaimsGateAdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/payouts", ts.token(t, "idn_rev", "reviewer"), gin.H{"currency": "USD"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/payouts", ts.token(t, "idn_fin", "finance"), gin.H{"currency": "USD"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/payouts/12345", ts.token(t, "idn_fin", "finance"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentWebhookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	storetest.SeedPartner(t, ts.stack.DB, 1, "acct-1", "active", "0.2")
	storetest.SeedAttribution(t, ts.stack.DB, 100, "user-1", 1, "ALICE", "0.2", "signup")

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":5000,"currency":"usd","metadata":{"identity_id":"user-1"}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripe.BuildSignatureHeader(testWebhookSecret, payload, storetest.Epoch.Unix()))
	rec = httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "recorded", decode(t, rec)["data"].(map[string]any)["commission"])

	adminToken := ts.token(t, adminSubject)
	rec = ts.do(t, http.MethodPost, "/admin/commissions/pi_1/reverse", adminToken, gin.H{"reason": "chargeback"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["data"].(map[string]any)["reversed"])

	rec = ts.do(t, http.MethodPost, "/api/payments/webhooks/paypal", "", gin.H{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorValidationFields(t *testing.T) {
	status, payload := mapError(newValidationError("code", "invalid_format", "bad"))
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "code", payload.Errors[0].Field)

	status, payload = mapError(ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", payload.Type)

	status, _ = mapError(authdomain.ErrNotConfigured)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
