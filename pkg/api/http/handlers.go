package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// maxWait bounds the ?wait= query parameter on run submission
const maxWait = 5 * time.Minute

// SubmitRunRequest represents a run submission request
type SubmitRunRequest struct {
	Graph  string            `json:"graph" binding:"required"`
	Input  json.RawMessage   `json:"input"`
	Labels map[string]string `json:"labels,omitempty"`
}

// SubmitRunResponse represents a run submission response
type SubmitRunResponse struct {
	RunID       string                 `json:"run_id"`
	Graph       string                 `json:"graph"`
	Status      domain.ExecutionStatus `json:"status"`
	SubmittedAt time.Time              `json:"submitted_at"`
	// Run is set when the caller asked to wait for completion
	Run *domain.RunState `json:"run,omitempty"`
}

// StatusResponse represents a run status response
type StatusResponse struct {
	RunID       string                 `json:"run_id"`
	Graph       string                 `json:"graph"`
	Status      domain.ExecutionStatus `json:"status"`
	Ticks       int                    `json:"ticks"`
	SubmittedAt time.Time              `json:"submitted_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ResultResponse represents a run result response
type ResultResponse struct {
	RunID      string                 `json:"run_id"`
	Status     domain.ExecutionStatus `json:"status"`
	Results    []any                  `json:"results"`
	Properties map[string]any         `json:"properties,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// StepsResponse represents a run step log response
type StepsResponse struct {
	RunID string               `json:"run_id"`
	Steps []orchestration.Step `json:"steps"`
	Total int                  `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":      "healthy",
		"timestamp":   time.Now(),
		"active_runs": s.orchestrator.ActiveRuns(),
	}

	if s.workers != nil {
		workers := s.workers.GetStatus()
		body["workers"] = workers
		if !workers.Healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}

	c.JSON(status, body)
}

// handleListGraphs lists the graphs runs can be submitted against
func (s *Server) handleListGraphs(c *gin.Context) {
	graphs := s.orchestrator.Graphs()
	c.JSON(http.StatusOK, gin.H{
		"graphs": graphs,
		"total":  len(graphs),
	})
}

// handleGetGraph describes a single graph
func (s *Server) handleGetGraph(c *gin.Context) {
	name := c.Param("name")

	for _, g := range s.orchestrator.Graphs() {
		if g.Name == name {
			c.JSON(http.StatusOK, g)
			return
		}
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: ErrorDetail{
			Code:    "GRAPH_NOT_FOUND",
			Message: "graph not found: " + name,
		},
	})
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "Invalid request body",
				Details: map[string]interface{}{"error": err.Error()},
			},
		})
		return
	}

	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "Invalid wait parameter",
				Details: map[string]interface{}{"error": err.Error()},
			},
		})
		return
	}

	state, err := s.orchestrator.SubmitRun(c.Request.Context(), req.Graph, req.Input, req.Labels)
	if err != nil {
		s.logger.Warn("failed to submit run",
			zap.String("graph", req.Graph),
			zap.Error(err))
		s.writeError(c, err, http.StatusInternalServerError, "SUBMISSION_FAILED")
		return
	}

	resp := SubmitRunResponse{
		RunID:       state.RunID,
		Graph:       state.Graph,
		Status:      state.Status,
		SubmittedAt: state.SubmittedAt,
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()

		final, err := s.orchestrator.Wait(ctx, state.RunID)
		if err == nil {
			resp.Status = final.Status
			resp.Run = final
			c.JSON(http.StatusOK, resp)
			return
		}
		// A wait that runs out still reports the accepted run
		s.logger.Debug("wait for run ended early",
			zap.String("run_id", state.RunID),
			zap.Error(err))
	}

	c.JSON(http.StatusAccepted, resp)
}

// handleListRuns lists runs, optionally filtered by graph and status
func (s *Server) handleListRuns(c *gin.Context) {
	status := domain.ExecutionStatus(c.Query("status"))
	if status != "" && !validStatus(status) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "Unknown status filter: " + string(status),
			},
		})
		return
	}

	runs, err := s.orchestrator.ListRuns(c.Request.Context(), c.Query("graph"), status)
	if err != nil {
		s.writeError(c, err, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}

	if runs == nil {
		runs = []*domain.RunState{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// handleGetRun returns the full state of a run
func (s *Server) handleGetRun(c *gin.Context) {
	state, ok := s.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleGetStatus handles status queries
func (s *Server) handleGetStatus(c *gin.Context) {
	state, ok := s.lookup(c)
	if !ok {
		return
	}

	resp := StatusResponse{
		RunID:       state.RunID,
		Graph:       state.Graph,
		Status:      state.Status,
		Ticks:       state.Ticks,
		SubmittedAt: state.SubmittedAt,
		StartedAt:   state.StartedAt,
		CompletedAt: state.CompletedAt,
		Error:       state.Error,
	}
	if state.CompletedAt != nil {
		resp.DurationMs = state.Duration().Milliseconds()
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetResult returns the results of a finished run
func (s *Server) handleGetResult(c *gin.Context) {
	state, ok := s.lookup(c)
	if !ok {
		return
	}

	if !state.Status.IsTerminal() {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "RUN_NOT_FINISHED",
				Message: "Run has not finished yet",
				Details: map[string]interface{}{"status": state.Status},
			},
		})
		return
	}

	results := state.Results
	if results == nil {
		results = []any{}
	}

	c.JSON(http.StatusOK, ResultResponse{
		RunID:      state.RunID,
		Status:     state.Status,
		Results:    results,
		Properties: state.Properties,
		Error:      state.Error,
	})
}

// handleGetSteps returns the step log of a run
func (s *Server) handleGetSteps(c *gin.Context) {
	state, ok := s.lookup(c)
	if !ok {
		return
	}

	steps := state.Steps
	if steps == nil {
		steps = []orchestration.Step{}
	}

	c.JSON(http.StatusOK, StepsResponse{
		RunID: state.RunID,
		Steps: steps,
		Total: len(steps),
	})
}

// handleCancelRun requests cooperative cancellation of a run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		s.writeError(c, err, http.StatusInternalServerError, "CANCEL_FAILED")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID,
		"status": "cancelling",
	})
}

// lookup loads the run named by the :id parameter, writing the error response on failure
func (s *Server) lookup(c *gin.Context) (*domain.RunState, bool) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		s.writeError(c, err, http.StatusInternalServerError, "INTERNAL_ERROR")
		return nil, false
	}

	return state, true
}

// writeError maps domain errors to status codes, falling back to the given status
func (s *Server) writeError(c *gin.Context, err error, fallback int, fallbackCode string) {
	status, code := fallback, fallbackCode

	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		status, code = http.StatusNotFound, "RUN_NOT_FOUND"
	case errors.Is(err, domain.ErrGraphNotFound):
		status, code = http.StatusNotFound, "GRAPH_NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrRunTerminal):
		status, code = http.StatusConflict, "RUN_FINISHED"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

func validStatus(s domain.ExecutionStatus) bool {
	switch s {
	case domain.ExecutionStatusSubmitted, domain.ExecutionStatusRunning, domain.ExecutionStatusCompleted,
		domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled:
		return true
	}
	return false
}
