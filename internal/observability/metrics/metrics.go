package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes referral pipeline instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	attributions     metric.Int64Counter
	conversions      metric.Int64Counter
	commissions      metric.Int64Counter
	commissionAmount metric.Int64Counter
	reversals        metric.Int64Counter
	paymentEvents    metric.Int64Counter
	partnerChanges   metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "referrals"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.attributions, "referrals_attributions_total", "Attribution attempts by outcome."},
		{&m.conversions, "referrals_conversions_total", "Funnel transitions by stage."},
		{&m.commissions, "referrals_commissions_total", "Commission record calls by outcome."},
		{&m.commissionAmount, "referrals_commission_minor_units_total", "Accrued commission in minor units."},
		{&m.reversals, "referrals_commission_reversals_total", "Commission reversal attempts by outcome."},
		{&m.paymentEvents, "referrals_payment_events_total", "Payment webhook events by provider, type and outcome."},
		{&m.partnerChanges, "referrals_partner_transitions_total", "Partner lifecycle transitions by target status."},
		{&m.rateLimitDenied, "referrals_rate_limit_denied_total", "Requests rejected by the rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordAttribution(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.attributions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

func (m *Metrics) RecordConversion(ctx context.Context, stage string, matched bool) {
	if m == nil {
		return
	}
	m.conversions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("stage", stage),
		attribute.Bool("matched", matched),
	)...))
}

// RecordCommission counts a RecordCommission call; amount is added only for
// fresh accruals.
func (m *Metrics) RecordCommission(ctx context.Context, outcome, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)
	m.commissions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.commissionAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordReversal(ctx context.Context, reversed bool) {
	if m == nil {
		return
	}
	m.reversals.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.Bool("reversed", reversed))...))
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordPartnerTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.partnerChanges.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("status", status))...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"stage":       {},
	"matched":     {},
	"reversed":    {},
	"currency":    {},
	"provider":    {},
	"event_type":  {},
	"status":      {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Identity, payment and code values never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
