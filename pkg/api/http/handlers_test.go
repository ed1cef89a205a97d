package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/internal/application/orchestrator"
	"github.com/aescanero/tickgraph/internal/graphs"
	eventsmemory "github.com/aescanero/tickgraph/pkg/adapters/events/memory"
	promcollector "github.com/aescanero/tickgraph/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/tickgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// spin advances once per 5ms until cancelled
func spin(opts ...orchestration.Option) (orchestration.Executable, error) {
	step := orchestration.NewNode("spin", func(ctx context.Context, _ *orchestration.Properties, in int) (int, error) {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
		}
		return in + 1, nil
	})
	if err := orchestration.Route(step, step, nil); err != nil {
		return nil, err
	}
	orch := orchestration.New[int, int]("spin", opts...)
	if err := orch.SetEntry(step); err != nil {
		return nil, err
	}
	return orch, nil
}

func newTestServer(t *testing.T) (*Server, *orchestrator.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator := orchestrator.NewValidator()
	catalog := orchestrator.NewCatalog(validator)
	require.NoError(t, catalog.Register(graphs.EchoName, "echo", graphs.Echo))
	require.NoError(t, catalog.Register(graphs.TextName, "text statistics", graphs.Text))
	require.NoError(t, catalog.Register("spin", "never ends", spin))

	registry := prometheus.NewRegistry()
	manager := orchestrator.NewManager(catalog, validator,
		eventsmemory.NewInMemoryEventBus(zap.NewNop()),
		storagememory.NewInMemoryStateStorage(),
		promcollector.NewCollector(registry),
		zap.NewNop(),
		orchestrator.WithEngineOptions(orchestration.WithStepLog(true)))
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	server := NewServer(&Config{
		Port:         0,
		Orchestrator: manager,
		Gatherer:     registry,
		Logger:       zap.NewNop(),
	})
	return server, manager
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["active_runs"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestListGraphs(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/v1/graphs", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Graphs []orchestrator.GraphInfo `json:"graphs"`
		Total  int                      `json:"total"`
	}](t, w)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, graphs.EchoName, body.Graphs[0].Name)

	w = do(t, s, http.MethodGet, "/api/v1/graphs/"+graphs.TextName, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[orchestrator.GraphInfo](t, w)
	assert.Equal(t, "text statistics", info.Description)

	w = do(t, s, http.MethodGet, "/api/v1/graphs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitAndWait(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/runs?wait=5s",
		`{"graph": "text", "input": {"text": "one two three"}, "labels": {"env": "test"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SubmitRunResponse](t, w)
	assert.Equal(t, domain.ExecutionStatusCompleted, resp.Status)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "test", resp.Run.Labels["env"])

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[StatusResponse](t, w)
	assert.Equal(t, 3, status.Ticks)
	assert.NotNil(t, status.CompletedAt)

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[ResultResponse](t, w)
	require.Len(t, result.Results, 1)
	report, ok := result.Results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "One Two Three", report["title"])

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/steps", "")
	require.Equal(t, http.StatusOK, w.Code)
	steps := decode[StepsResponse](t, w)
	assert.Equal(t, 3, steps.Total)

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	full := decode[domain.RunState](t, w)
	assert.Equal(t, graphs.TextName, full.Graph)
}

func TestSubmitErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed body", "/api/v1/runs", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing graph", "/api/v1/runs", `{"input": 1}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown graph", "/api/v1/runs", `{"graph": "nope"}`, http.StatusNotFound, "GRAPH_NOT_FOUND"},
		{"bad input", "/api/v1/runs", `{"graph": "text", "input": {"words": 1}}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad wait", "/api/v1/runs?wait=soon", `{"graph": "echo"}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Error.Code)
		})
	}
}

func TestRunLifecycleWithCancel(t *testing.T) {
	s, manager := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/runs", `{"graph": "spin", "input": 0}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[SubmitRunResponse](t, w)

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+resp.RunID+"/result", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_NOT_FINISHED", decode[ErrorResponse](t, w).Error.Code)

	w = do(t, s, http.MethodPost, "/api/v1/runs/"+resp.RunID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := manager.Wait(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, state.Status)

	w = do(t, s, http.MethodPost, "/api/v1/runs/"+resp.RunID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/runs?graph=spin&status=cancelled", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Runs  []domain.RunState `json:"runs"`
		Total int               `json:"total"`
	}](t, w)
	assert.Equal(t, 1, list.Total)

	w = do(t, s, http.MethodGet, "/api/v1/runs?status=completed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["total"].(float64))
}

func TestUnknownRun(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/v1/runs/missing",
		"/api/v1/runs/missing/status",
		"/api/v1/runs/missing/result",
		"/api/v1/runs/missing/steps",
	} {
		w := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := do(t, s, http.MethodPost, "/api/v1/runs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/runs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/runs?wait=5s", `{"graph": "echo", "input": "hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tickgraph_")
}
