package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/referrals/internal/clock"
	paymentdomain "github.com/smallbiznis/referrals/internal/payment/domain"
)

const (
	providerName     = "stripe"
	defaultTolerance = 5 * time.Minute
)

// Metadata keys the checkout integration stamps on Stripe objects.
const (
	metaIdentityID     = "identity_id"
	metaReferralCode   = "referral_code"
	metaSubscriptionID = "subscription_id"
	metaPlanID         = "plan_id"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance, clock: clk}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.clock.Now().Sub(time.Unix(unix, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var (
		out *paymentdomain.PaymentEvent
		err error
	)
	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		out, err = a.parsePaymentIntent(event)
	case "invoice.paid":
		out, err = a.parseInvoice(event)
	case "charge.refunded":
		out, err = a.parseRefund(event)
	case "charge.dispute.created":
		out, err = a.parseDispute(event)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	out.Provider = providerName
	out.ProviderEventID = event.ID
	out.RawPayload = payload
	out.Currency = strings.ToUpper(strings.TrimSpace(out.Currency))
	if out.PaymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return out, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Invoice        string         `json:"invoice"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID            string         `json:"id"`
	AmountPaid    int64          `json:"amount_paid"`
	Currency      string         `json:"currency"`
	Created       int64          `json:"created"`
	PaymentIntent string         `json:"payment_intent"`
	Subscription  string         `json:"subscription"`
	PeriodStart   int64          `json:"period_start"`
	PeriodEnd     int64          `json:"period_end"`
	Metadata      map[string]any `json:"metadata"`
	Details       struct {
		Metadata map[string]any `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Refunded       bool           `json:"refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	PaymentIntent  string         `json:"payment_intent"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeDispute struct {
	ID            string         `json:"id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Reason        string         `json:"reason"`
	Created       int64          `json:"created"`
	Charge        string         `json:"charge"`
	PaymentIntent string         `json:"payment_intent"`
	Metadata      map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	return &paymentdomain.PaymentEvent{
		PaymentID:      intent.ID,
		Type:           paymentdomain.EventTypePaymentSucceeded,
		IdentityID:     readMetadataValue(intent.Metadata, metaIdentityID),
		ReferralCode:   readMetadataValue(intent.Metadata, metaReferralCode),
		SubscriptionID: readMetadataValue(intent.Metadata, metaSubscriptionID),
		PlanID:         readMetadataValue(intent.Metadata, metaPlanID),
		InvoiceID:      intent.Invoice,
		Amount:         amount,
		Currency:       intent.Currency,
		OccurredAt:     a.timestamp(intent.Created, event.Created),
	}, nil
}

// parseInvoice keys the event on the invoice's payment intent so that
// invoice.paid and payment_intent.succeeded for one charge converge.
func (a *Adapter) parseInvoice(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	metadata := mergeMetadata(invoice.Details.Metadata, invoice.Metadata)
	paymentID := strings.TrimSpace(invoice.PaymentIntent)
	if paymentID == "" {
		paymentID = invoice.ID
	}
	subscriptionID := strings.TrimSpace(invoice.Subscription)
	if subscriptionID == "" {
		subscriptionID = readMetadataValue(metadata, metaSubscriptionID)
	}
	planID := readMetadataValue(metadata, metaPlanID)
	start, end := invoice.PeriodStart, invoice.PeriodEnd
	if len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if planID == "" {
			planID = line.Price.ID
		}
		if line.Period.Start > 0 && line.Period.End > 0 {
			start, end = line.Period.Start, line.Period.End
		}
	}

	out := &paymentdomain.PaymentEvent{
		PaymentID:      paymentID,
		Type:           paymentdomain.EventTypePaymentSucceeded,
		IdentityID:     readMetadataValue(metadata, metaIdentityID),
		ReferralCode:   readMetadataValue(metadata, metaReferralCode),
		SubscriptionID: subscriptionID,
		PlanID:         planID,
		InvoiceID:      invoice.ID,
		Amount:         invoice.AmountPaid,
		Currency:       invoice.Currency,
		OccurredAt:     a.timestamp(invoice.Created, event.Created),
	}
	if start > 0 && end > 0 {
		ps, pe := time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
		out.PeriodStart, out.PeriodEnd = &ps, &pe
	}
	return out, nil
}

func (a *Adapter) parseRefund(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := charge.Amount
	if charge.AmountRefunded > 0 {
		amount = charge.AmountRefunded
	}
	paymentID := strings.TrimSpace(charge.PaymentIntent)
	if paymentID == "" {
		paymentID = charge.ID
	}
	// Only a full refund reverses the commission.
	eventType := paymentdomain.EventTypePartiallyRefunded
	if charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount) {
		eventType = paymentdomain.EventTypeRefunded
	}
	return &paymentdomain.PaymentEvent{
		PaymentID:  paymentID,
		Type:       eventType,
		IdentityID: readMetadataValue(charge.Metadata, metaIdentityID),
		Amount:     amount,
		Currency:   charge.Currency,
		Reason:     "refund",
		OccurredAt: a.timestamp(charge.Created, event.Created),
	}, nil
}

func (a *Adapter) parseDispute(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var dispute stripeDispute
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(dispute.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	paymentID := strings.TrimSpace(dispute.PaymentIntent)
	if paymentID == "" {
		paymentID = strings.TrimSpace(dispute.Charge)
	}
	reason := "dispute"
	if r := strings.TrimSpace(dispute.Reason); r != "" {
		reason = "dispute:" + r
	}
	return &paymentdomain.PaymentEvent{
		PaymentID:  paymentID,
		Type:       paymentdomain.EventTypeDisputed,
		IdentityID: readMetadataValue(dispute.Metadata, metaIdentityID),
		Amount:     dispute.Amount,
		Currency:   dispute.Currency,
		Reason:     reason,
		OccurredAt: a.timestamp(dispute.Created, event.Created),
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		key, value, ok := strings.Cut(piece, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func (a *Adapter) timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return a.clock.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

// mergeMetadata returns base overlaid with override.
func mergeMetadata(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if readMetadataValue(override, k) != "" {
			out[k] = v
		}
	}
	return out
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
