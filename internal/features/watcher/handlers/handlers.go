package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"

	"github.com/go-chi/chi/v5"
)

// StatusSource reports per-topic poll state.
type StatusSource interface {
	Status() []models.TopicStatus
	TopicStatus(topicID string) (models.TopicStatus, error)
}

// DeliveryLister lists journalled deliveries.
type DeliveryLister interface {
	Recent(ctx context.Context, topicID string, limit int) ([]models.Delivery, error)
	Count(ctx context.Context, topicID string) (int, error)
}

// Handlers serves the read-only watcher status API
type Handlers struct {
	logger     *core.Logger
	status     StatusSource
	deliveries DeliveryLister
}

// NewHandlers creates a new handlers instance
func NewHandlers(logger *core.Logger, status StatusSource, deliveries DeliveryLister) *Handlers {
	return &Handlers{
		logger:     logger,
		status:     status,
		deliveries: deliveries,
	}
}

func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"topics": h.status.Status()})
}

func (h *Handlers) GetTopic(w http.ResponseWriter, r *http.Request) {
	topicID, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		core.HandleError(w, core.NewValidationError("malformed topic id", err))
		return
	}

	status, err := h.status.TopicStatus(topicID)
	if err != nil {
		core.HandleError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"topic": status})
}

func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			core.HandleError(w, core.NewValidationError("limit must be a non-negative integer", err))
			return
		}
		limit = n
	}

	topicID := r.URL.Query().Get("topic")
	deliveries, err := h.deliveries.Recent(r.Context(), topicID, limit)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to list deliveries", "error", err)
		core.HandleError(w, err)
		return
	}
	total, err := h.deliveries.Count(r.Context(), topicID)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to count deliveries", "error", err)
		core.HandleError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"deliveries": deliveries, "total": total})
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
