package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pricewatch/logger"
	"pricewatch/models"
	"pricewatch/repository"

	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 50

// ItemReader is the read side of the tracked-item repository
type ItemReader interface {
	ListItems(ctx context.Context) ([]models.TrackedItem, error)
	GetItem(ctx context.Context, id int64) (*models.TrackedItem, error)
	GetPriceHistory(ctx context.Context, itemID int64, limit int) ([]models.PriceHistory, error)
}

// RunController starts check runs and reports on them
type RunController interface {
	Enqueue() (joined bool)
	Running() bool
	LastRun() *models.CheckRun
}

type Handlers struct {
	items ItemReader
	runs  RunController
	start time.Time
}

func NewHandlers(items ItemReader, runs RunController) *Handlers {
	return &Handlers{items: items, runs: runs, start: time.Now()}
}

// Register mounts every route on r
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	route(api, "/items", h.ListItems, http.MethodGet)
	route(api, "/items/{id}", h.GetItem, http.MethodGet)
	route(api, "/items/{id}/history", h.GetPriceHistory, http.MethodGet)
	route(api, "/runs", h.StartRun, http.MethodPost)
	route(api, "/runs/latest", h.LatestRun, http.MethodGet)
}

// route registers fn for methods and answers any other method on path with 405
func route(r *mux.Router, path string, fn http.HandlerFunc, methods ...string) {
	r.HandleFunc(path, fn).Methods(methods...)
	r.HandleFunc(path, methodNotAllowed(methods))
}

func methodNotAllowed(methods []string) http.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HealthCheck returns a simple health check response
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "pricewatch",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.start).Round(time.Second).String(),
		"running":   h.runs.Running(),
	})
}

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.ListItems(r.Context())
	if err != nil {
		logger.Error("failed to list items", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get items")
		return
	}
	if items == nil {
		items = []models.TrackedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.items.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "Item not found")
			return
		}
		logger.Error("failed to get item", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetPriceHistory returns the item's checks, newest first
func (h *Handlers) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if _, err := h.items.GetItem(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "Item not found")
			return
		}
		logger.Error("failed to get item", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get item")
		return
	}

	history, err := h.items.GetPriceHistory(r.Context(), id, limit)
	if err != nil {
		logger.Error("failed to get price history", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get price history")
		return
	}
	if history == nil {
		history = []models.PriceHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

// StartRun kicks off a check run in the background, joining one already in flight
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	joined := h.runs.Enqueue()
	status := "started"
	if joined {
		status = "already_running"
	}
	logger.Info("check run requested", "status", status)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	run := h.runs.LastRun()
	if run == nil {
		writeError(w, http.StatusNotFound, "No check run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid item ID")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
