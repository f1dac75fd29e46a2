package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeUniqueViolation  = "unique_violation"
	ErrorTypeSerialization    = "serialization_failure"
	ErrorTypeLockTimeout      = "db_lock_timeout"
	ErrorTypeDB               = "db"
	ErrorTypeUnknown          = "unknown"
)

// HTTPMetrics exposes request counters and latency on the prometheus registry
// scraped at /metrics.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// WorkerMetrics tracks background loops such as the outbox dispatcher.
type WorkerMetrics struct {
	runs     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	batch    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func constLabels(cfg Config) prometheus.Labels {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "referrals"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	return prometheus.Labels{"service": service, "env": env}
}

// NewHTTPMetrics registers HTTP instruments on the default registerer.
func NewHTTPMetrics(cfg Config) (*HTTPMetrics, error) {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(reg prometheus.Registerer, cfg Config) (*HTTPMetrics, error) {
	labels := constLabels(cfg)
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "referrals_http_requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: labels,
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "referrals_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "route"}),
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// NewWorkerMetrics registers background worker instruments on the default registerer.
func NewWorkerMetrics(cfg Config) (*WorkerMetrics, error) {
	return newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
}

func newWorkerMetrics(reg prometheus.Registerer, cfg Config) (*WorkerMetrics, error) {
	labels := constLabels(cfg)
	m := &WorkerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "referrals_worker_runs_total",
			Help:        "Background worker iterations.",
			ConstLabels: labels,
		}, []string{"worker"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "referrals_worker_errors_total",
			Help:        "Background worker failures by error type.",
			ConstLabels: labels,
		}, []string{"worker", "error_type"}),
		batch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "referrals_worker_items_total",
			Help:        "Items handled by background workers by result.",
			ConstLabels: labels,
		}, []string{"worker", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "referrals_worker_duration_seconds",
			Help:        "Background worker iteration latency.",
			Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: labels,
		}, []string{"worker"}),
	}
	var err error
	if m.runs, err = register(reg, m.runs); err != nil {
		return nil, err
	}
	if m.errors, err = register(reg, m.errors); err != nil {
		return nil, err
	}
	if m.batch, err = register(reg, m.batch); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// GinMiddleware records request count and latency for each matched route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *WorkerMetrics) ObserveRun(worker string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(worker).Inc()
	m.duration.WithLabelValues(worker).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddItems(worker, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batch.WithLabelValues(worker, result).Add(float64(count))
}

func (m *WorkerMetrics) IncError(worker string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(worker, ClassifyError(err)).Inc()
}

// ClassifyError maps store and context errors to a low-cardinality type.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ErrorTypeUniqueViolation
	case hasPGCode(err, "40001"):
		return ErrorTypeSerialization
	case hasPGCode(err, "55P03"):
		return ErrorTypeLockTimeout
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryable reports whether err is a transient store or deadline failure.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeDeadlineExceeded, ErrorTypeSerialization, ErrorTypeLockTimeout, ErrorTypeDB:
		return true
	default:
		return false
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrNotImplemented) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
