package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// EventTypeSnapshot is the first message sent on every stream
const EventTypeSnapshot domain.EventType = "run.snapshot"

const (
	// writeWait bounds socket writes and the hand-off of terminal events
	writeWait  = 10 * time.Second
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunLookup loads the current state of a run
type RunLookup interface {
	GetStatus(ctx context.Context, runID string) (*domain.RunState, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus  ports.EventBus
	runs      RunLookup
	writeWait time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, runs RunLookup, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus:  eventBus,
		runs:      runs,
		writeWait: writeWait,
		logger:    logger,
	}
}

// HandleRunStream streams the events of a single run
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	if _, err := h.runs.GetStatus(c.Request.Context(), runID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": gin.H{"code": "RUN_NOT_FOUND", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan domain.Event, bufferSize)
	if err := h.subscribe(ctx, runID, events); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("run_id", runID),
			zap.Error(err))
		h.close(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	// Reading detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Subscribed before the snapshot so nothing between the two is lost
	state, err := h.runs.GetStatus(ctx, runID)
	if err != nil {
		h.close(conn, websocket.CloseInternalServerErr, "failed to load run")
		return
	}
	if err := h.write(conn, snapshot(state)); err != nil {
		return
	}
	if state.Status.IsTerminal() {
		h.close(conn, websocket.CloseNormalClosure, string(state.Status))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := h.write(conn, event); err != nil {
				return
			}
			if event.IsTerminal() {
				h.close(conn, websocket.CloseNormalClosure, string(event.Type))
				return
			}
		}
	}
}

// subscribe forwards this run's events from every topic into ch
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- domain.Event) error {
	handler := func(ctx context.Context, event domain.Event) error {
		if event.RunID != runID {
			return nil
		}

		// Terminal events wait for room, at most writeWait
		if event.IsTerminal() {
			timer := time.NewTimer(h.writeWait)
			defer timer.Stop()

			select {
			case ch <- event:
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				h.logger.Warn("event channel full, dropping terminal event",
					zap.String("run_id", runID),
					zap.String("event_id", event.ID))
				return nil
			}
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", runID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range []string{domain.TopicRunEvents, domain.TopicNodeEvents} {
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) write(conn *websocket.Conn, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
}

func snapshot(state *domain.RunState) domain.Event {
	event := domain.NewEvent(EventTypeSnapshot, state.RunID, state.Graph)
	event.Tick = state.Ticks
	event.Message = state.Error
	event.Data = map[string]any{"status": state.Status}
	return event
}
