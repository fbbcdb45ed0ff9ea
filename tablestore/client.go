// Package tablestore implements session.Backend on Alibaba Cloud
// Tablestore (OTS).
//
// A Store wraps one Tablestore instance. Construction is lazy: New only
// builds the HTTP client, so credential and endpoint problems surface on
// the first operation. Every operation is traced with OpenTelemetry and,
// when WithRateLimit is set, throttled client-side before it reaches the
// wire.
//
// Store failures are translated into the session package's sentinel
// errors, so callers never see raw OTS error codes.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ots "github.com/aliyun/aliyun-tablestore-go-sdk/v5/tablestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kaiwa0/kaiwa/internal/log"
	"github.com/kaiwa0/kaiwa/session"
)

const tracerName = "github.com/kaiwa0/kaiwa/tablestore"

// Config carries the connection settings for one Tablestore instance.
type Config struct {
	// Endpoint is the instance endpoint, e.g.
	// https://myinstance.cn-hangzhou.ots.aliyuncs.com.
	Endpoint string

	// Instance is the Tablestore instance name.
	Instance string

	AccessKeyID     string
	AccessKeySecret string

	// SecurityToken holds the STS token when using temporary credentials;
	// leave empty for long-lived access keys.
	SecurityToken string
}

func (c Config) validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is required")
	case c.Instance == "":
		return errors.New("instance is required")
	case c.AccessKeyID == "" || c.AccessKeySecret == "":
		return errors.New("access credentials are required")
	}
	return nil
}

// Resolver supplies connection settings for a named collection at
// startup, typically from the environment, an STS credential service or
// a secret manager. The name is opaque to the adapter.
type Resolver func(ctx context.Context, name string) (Config, error)

// api is the subset of the Tablestore client the adapter calls, split out
// so tests can substitute a fake.
type api interface {
	CreateTable(request *ots.CreateTableRequest) (*ots.CreateTableResponse, error)
	CreateSearchIndex(request *ots.CreateSearchIndexRequest) (*ots.CreateSearchIndexResponse, error)
	GetRow(request *ots.GetRowRequest) (*ots.GetRowResponse, error)
	PutRow(request *ots.PutRowRequest) (*ots.PutRowResponse, error)
	UpdateRow(request *ots.UpdateRowRequest) (*ots.UpdateRowResponse, error)
	DeleteRow(request *ots.DeleteRowRequest) (*ots.DeleteRowResponse, error)
	GetRange(request *ots.GetRangeRequest) (*ots.GetRangeResponse, error)
	BatchWriteRow(request *ots.BatchWriteRowRequest) (*ots.BatchWriteRowResponse, error)
	Search(request *ots.SearchRequest) (*ots.SearchResponse, error)
}

// Store talks to one Tablestore instance. It implements session.Backend.
type Store struct {
	client   api
	logger   log.Logger
	tracer   trace.Tracer
	limiter  *rate.Limiter
	endpoint string

	httpTimeout time.Duration
	retries     uint
}

// Endpoint returns the instance endpoint this store connects to.
func (s *Store) Endpoint() string { return s.endpoint }

var _ session.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimit caps outgoing requests at qps, smoothing bursts so the
// instance's reserved throughput is not exhausted by a single hot caller.
// Zero or negative disables the limiter.
func WithRateLimit(qps float64) Option {
	return func(s *Store) {
		if qps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(qps), int(qps)+1)
		}
	}
}

// WithHTTPTimeout bounds the connection and request round trip of each
// call. Zero keeps the client defaults.
func WithHTTPTimeout(d time.Duration) Option {
	return func(s *Store) { s.httpTimeout = d }
}

// WithRetries sets how many times the client retries throttled or failed
// requests before giving up. Zero keeps the client default.
func WithRetries(n uint) Option {
	return func(s *Store) { s.retries = n }
}

// New builds a Store for the instance described by cfg.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("tablestore config: %w", err)
	}

	s := &Store{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	sdkCfg := ots.NewDefaultTableStoreConfig()
	if s.httpTimeout > 0 {
		sdkCfg.HTTPTimeout = ots.HTTPTimeout{
			ConnectionTimeout: s.httpTimeout,
			RequestTimeout:    s.httpTimeout,
		}
	}
	if s.retries > 0 {
		sdkCfg.RetryTimes = s.retries
	}
	s.endpoint = cfg.Endpoint
	s.client = ots.NewClientWithConfig(
		cfg.Endpoint, cfg.Instance,
		cfg.AccessKeyID, cfg.AccessKeySecret, cfg.SecurityToken,
		sdkCfg,
	)

	s.logger.Debug("tablestore client ready",
		"endpoint", cfg.Endpoint,
		"instance", cfg.Instance,
	)
	return s, nil
}

// NewFromResolver resolves the named collection's connection settings and
// builds a Store from them. The resolved endpoint is normalized with
// PublicEndpoint first, since credential services commonly hand out
// VPC-internal hosts that are unreachable from outside the VPC; callers
// running inside the VPC should use New directly.
func NewFromResolver(ctx context.Context, name string, resolve Resolver, opts ...Option) (*Store, error) {
	cfg, err := resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve tablestore config %q: %w", name, err)
	}
	cfg.Endpoint = PublicEndpoint(cfg.Endpoint)
	return New(cfg, opts...)
}

const (
	vpcEndpointSuffix    = ".vpc.tablestore.aliyuncs.com"
	publicEndpointSuffix = ".ots.aliyuncs.com"
)

// PublicEndpoint rewrites a VPC-internal instance endpoint to its public
// form. Endpoints that are not VPC-internal pass through unchanged.
func PublicEndpoint(endpoint string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, vpcEndpointSuffix) {
		return strings.TrimSuffix(trimmed, vpcEndpointSuffix) + publicEndpointSuffix
	}
	return endpoint
}

// wait blocks until the rate limiter admits the request, or the context is
// done.
func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// span opens a client span for one store call. The underlying client does
// not thread contexts through its calls, so the span only observes the
// call, it does not propagate cancellation.
func (s *Store) span(ctx context.Context, op, table string, attrs ...attribute.KeyValue) trace.Span {
	attrs = append(attrs, attribute.String("ots.table", table))
	_, span := s.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return span
}

// fail records err on the span and passes it through.
func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
