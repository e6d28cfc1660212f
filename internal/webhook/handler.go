// Package webhook is the inbound ingestion path: it receives pushed Wazzup
// events, stores them idempotently and forwards first-sight inbound messages
// into Podio. The handler only does the single forward call per message; the
// reconciliation loop picks up anything that fails.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/store"
	intsync "github.com/matheus3301/chatbridge/internal/sync"
	"go.uber.org/zap"
)

// Handler serves the Wazzup webhook endpoints.
type Handler struct {
	db     *store.DB
	fwd    *intsync.Forwarder
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(db *store.DB, fwd *intsync.Forwarder, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{db: db, fwd: fwd, bus: b, logger: logger}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/wazzup", h.handleWazzup)
	mux.HandleFunc("GET /webhook/test", h.handleTestGet)
	mux.HandleFunc("POST /webhook/test", h.handleTestPost)
}

func (h *Handler) handleWazzup(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("unparseable webhook payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if payload.Test {
		h.logger.Info("webhook test probe received")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	batchID := uuid.NewString()
	accepted := 0
	for i := range payload.Messages {
		// Each event is processed independently; one failure never aborts
		// the batch, matching the provider's retry expectations.
		if h.processEvent(r.Context(), batchID, &payload.Messages[i]) {
			accepted++
		}
	}

	h.logger.Info("webhook batch processed",
		zap.String("batch_id", batchID),
		zap.Int("received", len(payload.Messages)),
		zap.Int("accepted", accepted))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "received": len(payload.Messages)})
}

func (h *Handler) processEvent(ctx context.Context, batchID string, event *MessageEvent) bool {
	if err := event.Validate(); err != nil {
		h.logger.Warn("invalid webhook event",
			zap.String("batch_id", batchID), zap.Error(err))
		return false
	}

	msg := event.ToMessage()
	firstSight, err := h.db.UpsertMessage(msg)
	if err != nil {
		h.logger.Error("failed to store message",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return false
	}
	if !firstSight {
		h.logger.Debug("duplicate delivery ignored", zap.String("message_id", msg.MessageID))
		return true
	}

	h.bus.Publish(bus.Event{
		Kind:      "ingest.message",
		Timestamp: time.Now(),
		Payload:   map[string]string{"message_id": msg.MessageID, "chat_id": msg.ChatID},
	})

	if !msg.Forwardable() {
		// Echoes and status updates are kept for audit only.
		return true
	}

	// Single forward attempt; a failure leaves the message unmarked so the
	// reconciliation loop retries it. The webhook response never waits on
	// anything beyond this one call.
	if err := h.fwd.ProcessInbound(ctx, msg); err != nil {
		h.logger.Warn("forward failed, left for reconciler",
			zap.String("message_id", msg.MessageID), zap.Error(err))
	}
	return true
}

func (h *Handler) handleTestGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "webhook server is running"})
}

func (h *Handler) handleTestPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	var echo any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &echo); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	h.logger.Info("test webhook received", zap.Int("bytes", len(body)))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "received": echo})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
