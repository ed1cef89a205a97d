// Package sentry forwards run faults to Sentry.
package sentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// Config configures the reporter
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64

	// beforeSend lets tests observe events without a transport.
	beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Reporter implements ports.ErrorReporter on a dedicated hub
type Reporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewReporter creates a reporter. An empty DSN yields a client that drops events.
func NewReporter(cfg Config, logger *zap.Logger) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
		BeforeSend:  cfg.beforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}

	logger.Info("Sentry reporter initialized",
		zap.Bool("enabled", cfg.DSN != ""),
		zap.String("environment", cfg.Environment))

	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// Report captures err with tags. Node failures also carry node, phase and process tags.
func (r *Reporter) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if runID := orchestration.RunIDFromContext(ctx); runID != "" {
			scope.SetTag("run_id", runID)
		}

		var nodeErr *orchestration.NodeError
		if errors.As(err, &nodeErr) {
			scope.SetTag("node", nodeErr.NodeName)
			scope.SetTag("phase", string(nodeErr.Phase))
			scope.SetTag("process_id", nodeErr.ProcessID)
		}

		if id := hub.CaptureException(err); id != nil {
			r.logger.Debug("Fault reported",
				zap.String("event_id", string(*id)),
				zap.Error(err))
		}
	})
}

// Flush waits for buffered events to be sent
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
