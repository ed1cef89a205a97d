package orchestration

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// FaultPolicy decides what a run does when a node function fails.
type FaultPolicy string

const (
	// FaultFailFast stops the run on the first tick with a fault.
	FaultFailFast FaultPolicy = "fail_fast"

	// FaultIsolate reports the fault and sends the faulted processes down the retry path.
	FaultIsolate FaultPolicy = "isolate"
)

// ParseFaultPolicy parses a policy name
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch FaultPolicy(s) {
	case FaultFailFast, FaultIsolate:
		return FaultPolicy(s), nil
	case "":
		return FaultFailFast, nil
	}
	return "", fmt.Errorf("unknown fault policy %q", s)
}

// Metrics receives engine measurements.
type Metrics interface {
	ObserveInvocation(orchestration, node string, duration time.Duration, err error)
	IncTicks(orchestration string)
	IncRetries(orchestration, node string)
	IncDropped(orchestration, node string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveInvocation(string, string, time.Duration, error) {}
func (nopMetrics) IncTicks(string)                                        {}
func (nopMetrics) IncRetries(string, string)                              {}
func (nopMetrics) IncDropped(string, string)                              {}

type options struct {
	maxAttempts int
	nodeTimeout time.Duration
	faultPolicy FaultPolicy
	stepLog     bool
	executor    Executor
	concurrency int
	logger      *zap.Logger
	metrics     Metrics
	tracer      trace.Tracer
	runID       string
}

func defaultOptions() options {
	return options{
		maxAttempts: DefaultMaxAttempts,
		faultPolicy: FaultFailFast,
		logger:      zap.NewNop(),
		metrics:     nopMetrics{},
		tracer:      noop.NewTracerProvider().Tracer("tickgraph"),
	}
}

// Option configures an orchestration
type Option func(*options)

// WithMaxAttempts sets how many times an unroutable process runs before it is dropped.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithNodeTimeout bounds every invocation and hook of nodes that set no timeout of their own.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *options) { o.nodeTimeout = d }
}

// WithFaultPolicy selects how node faults are handled
func WithFaultPolicy(p FaultPolicy) Option {
	return func(o *options) { o.faultPolicy = p }
}

// WithStepLog records the active set of every tick, see Orchestration.Steps.
func WithStepLog(enabled bool) Option {
	return func(o *options) { o.stepLog = enabled }
}

// WithExecutor replaces the errgroup executor
func WithExecutor(e Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithConcurrency bounds the default executor. Ignored when WithExecutor is set.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRunID fixes the id reported by every run instead of generating one per run.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}
