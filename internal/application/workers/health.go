package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor monitors worker health
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers   int          `json:"total_workers"`
	IdleWorkers    int          `json:"idle_workers"`
	BusyWorkers    int          `json:"busy_workers"`
	StoppedWorkers int          `json:"stopped_workers"`
	JobsHandled    int          `json:"jobs_handled"`
	Healthy        bool         `json:"healthy"`
	Workers        []WorkerInfo `json:"workers"`
	Timestamp      time.Time    `json:"timestamp"`
}

// WorkerInfo is the state of one worker
type WorkerInfo struct {
	ID      string       `json:"id"`
	Status  WorkerStatus `json:"status"`
	Jobs    int          `json:"jobs"`
	LastJob *time.Time   `json:"last_job,omitempty"`
}

// NewHealthMonitor creates a new health monitor. A non-positive interval
// disables periodic checks.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running || h.interval <= 0 {
		return
	}
	h.running = true

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false

	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.CheckHealth()
		}
	}
}

// CheckHealth logs the pool status and records it as metrics
func (h *HealthMonitor) CheckHealth() *HealthStatus {
	status := h.GetStatus()

	h.logger.Debug("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("jobs_handled", status.JobsHandled),
		zap.Bool("healthy", status.Healthy))

	if h.pool.metrics != nil {
		h.pool.metrics.RecordWorkerPoolStatus(
			status.IdleWorkers,
			status.BusyWorkers,
			status.StoppedWorkers,
		)
	}

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("idle", status.IdleWorkers),
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	} else if status.BusyWorkers == status.TotalWorkers {
		h.logger.Warn("all workers are busy - consider scaling up",
			zap.Int("total", status.TotalWorkers))
	}

	return status
}

// GetStatus returns the current health status. The pool is healthy while no
// worker has stopped.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		TotalWorkers: len(h.pool.workers),
		Workers:      make([]WorkerInfo, 0, len(h.pool.workers)),
		Timestamp:    time.Now(),
	}

	for _, w := range h.pool.workers {
		w.mu.RLock()
		info := WorkerInfo{ID: w.id, Status: w.status, Jobs: w.jobs}
		if !w.lastJob.IsZero() {
			last := w.lastJob
			info.LastJob = &last
		}
		w.mu.RUnlock()

		switch info.Status {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
		status.JobsHandled += info.Jobs
		status.Workers = append(status.Workers, info)
	}

	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0

	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
