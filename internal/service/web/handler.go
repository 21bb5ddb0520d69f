package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"subpool/internal/shared/logger"
	manager "subpool/proxypool"
	"subpool/proxypool/model"
	"subpool/proxypool/storage"
)

// PoolController defines the interface that the web handler uses to interact with the pool manager.
// This decouples the web package from the app wiring.
type PoolController interface {
	Status(ctx context.Context) (*manager.Status, error)
	Proxies(ctx context.Context) ([]*model.Record, error)
	DeleteProxy(ctx context.Context, key string) error
	TriggerCheck() error
}

type Handler struct {
	controller PoolController
}

func NewHandler(controller PoolController) *Handler {
	return &Handler{controller: controller}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode JSON response.")
	}
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.controller.Status(r.Context())
	if err != nil {
		http.Error(w, "Failed to read pool status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleProxies 处理 GET / DELETE /api/proxies
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listProxies(w, r)
	case http.MethodDelete:
		h.deleteProxy(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listProxies(w http.ResponseWriter, r *http.Request) {
	records, err := h.controller.Proxies(r.Context())
	if err != nil {
		http.Error(w, "Failed to list proxies: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("healthy") == "1" {
		healthy := records[:0]
		for _, rec := range records {
			if rec.FailCount == 0 {
				healthy = append(healthy, rec)
			}
		}
		records = healthy
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) deleteProxy(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing proxy key", http.StatusBadRequest)
		return
	}
	if err := h.controller.DeleteProxy(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete proxy: "+err.Error(), http.StatusInternalServerError)
		return
	}
	logger.Info().Str("key", key).Msg("Proxy deleted via web API.")
	w.WriteHeader(http.StatusNoContent)
}

// HandleCheck 处理 POST /api/check，在后台触发一次健康检查。
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.controller.TriggerCheck(); err != nil {
		if errors.Is(err, manager.ErrCycleRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to trigger check: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
