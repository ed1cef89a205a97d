package sentry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) hook(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestReportNodeError(t *testing.T) {
	var c captured
	r, err := NewReporter(Config{Environment: "test", beforeSend: c.hook}, zap.NewNop())
	require.NoError(t, err)

	nodeErr := &orchestration.NodeError{
		NodeName:  "review",
		ProcessID: "p-1",
		Phase:     orchestration.PhaseInvoke,
		Err:       errors.New("model unavailable"),
	}
	r.Report(context.Background(), nodeErr, map[string]string{"graph": "agent"})

	require.Len(t, c.events, 1)
	tags := c.events[0].Tags
	assert.Equal(t, "agent", tags["graph"])
	assert.Equal(t, "review", tags["node"])
	assert.Equal(t, "invoke", tags["phase"])
	assert.Equal(t, "p-1", tags["process_id"])
}

func TestReportIgnoresNil(t *testing.T) {
	var c captured
	r, err := NewReporter(Config{beforeSend: c.hook}, zap.NewNop())
	require.NoError(t, err)

	r.Report(context.Background(), nil, nil)
	assert.Empty(t, c.events)
	assert.True(t, r.Flush(10*time.Millisecond))
}

func TestNewReporterRejectsBadDSN(t *testing.T) {
	_, err := NewReporter(Config{DSN: "not a dsn"}, zap.NewNop())
	assert.Error(t, err)
}
