// Package admin exposes the tenant rate-limit registry over HTTP.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/stats"
)

const (
	msgUpdated = "Rate limit updated successfully"
	msgReset   = "Rate limit reset to default"
)

// StatsReader exposes decision counters kept in process.
type StatsReader interface {
	Snapshot() stats.Snapshot
}

type Handler struct {
	registry *ratelimit.Registry
	stats    StatsReader
}

type Option func(*Handler)

// WithStats serves s on GET /stats.
func WithStats(s StatsReader) Option {
	return func(h *Handler) { h.stats = s }
}

func New(registry *ratelimit.Registry, opts ...Option) *Handler {
	h := &Handler{registry: registry}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the store-limit endpoints, relative to the mount point.
// Access control is the caller's job.
func (h *Handler) Routes(mws ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mws...)
	r.Get("/stores", h.list)
	r.Get("/stores/{storeID}", h.get)
	r.Put("/stores/{storeID}", h.put)
	r.Delete("/stores/{storeID}", h.reset)
	r.Get("/stats", h.decisions)
	return r
}

type overview struct {
	DefaultLimit int64            `json:"defaultLimit"`
	CustomLimits map[string]int64 `json:"customLimits"`
}

type storeLimit struct {
	StoreID  string `json:"storeId"`
	Limit    int64  `json:"limit"`
	IsCustom *bool  `json:"isCustom,omitempty"`
	Message  string `json:"message,omitempty"`
}

type updateRequest struct {
	Limit *int64 `json:"limit"`
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, overview{
		DefaultLimit: h.registry.DefaultLimit(),
		CustomLimits: h.registry.Overrides(),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := storeID(r)
	custom := h.registry.IsCustom(id)
	writeJSON(w, http.StatusOK, storeLimit{
		StoreID:  id,
		Limit:    h.registry.Limit(id),
		IsCustom: &custom,
	})
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	id := storeID(r)

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Limit == nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidArgument, "limit must be a positive number")
		return
	}
	if err := h.registry.SetLimit(id, *req.Limit); err != nil {
		status := http.StatusInternalServerError
		if apperr.IsInvalidArgument(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, apperr.CodeOf(err), apperr.MessageOf(err))
		return
	}

	hlog.FromRequest(r).Info().Str("store_id", id).Int64("limit", *req.Limit).Msg("store rate limit updated")
	writeJSON(w, http.StatusOK, storeLimit{StoreID: id, Limit: *req.Limit, Message: msgUpdated})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	id := storeID(r)
	h.registry.ResetToDefault(id)

	limit := h.registry.DefaultLimit()
	hlog.FromRequest(r).Info().Str("store_id", id).Int64("limit", limit).Msg("store rate limit reset")
	writeJSON(w, http.StatusOK, storeLimit{StoreID: id, Limit: limit, Message: msgReset})
}

func (h *Handler) decisions(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, apperr.CodeUnavailable, "decision stats are not kept in process")
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func storeID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "storeID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": string(code), "message": msg},
	})
}
