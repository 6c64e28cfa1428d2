package backend

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/durable/backend/converter"
	"github.com/corvid-labs/durable/backend/metrics"
	mi "github.com/corvid-labs/durable/internal/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is the converter to use for serializing and deserializing
	// inputs and results. If not explicitly set, converter.DefaultConverter
	// is used.
	Converter converter.Converter

	// OrchestrationLockTimeout determines how long an orchestration task can
	// be locked for. If the task is not completed by that timeframe, it's
	// considered abandoned and another worker might pick it up.
	OrchestrationLockTimeout time.Duration

	// ActivityLockTimeout determines how long an activity task can be locked
	// for. If the activity task is not completed by that timeframe, it's
	// considered abandoned and another worker might pick it up.
	ActivityLockTimeout time.Duration
}

var DefaultOptions Options = Options{
	OrchestrationLockTimeout: time.Minute,
	ActivityLockTimeout:      time.Minute * 2,

	Logger:         slog.Default(),
	Metrics:        mi.NewNoopMetricsClient(),
	TracerProvider: trace.NewNoopTracerProvider(),
	Converter:      converter.DefaultConverter,
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithOrchestrationLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.OrchestrationLockTimeout = timeout
	}
}

func WithActivityLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.ActivityLockTimeout = timeout
	}
}

func ApplyOptions(opts ...BackendOption) *Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &options
}
