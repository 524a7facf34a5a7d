// Package httpapi exposes the HTTP surface: the websocket endpoint, the
// graph query endpoint, health and metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xrpldash/xrpldash/internal/app/metrics"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

// Handler routes HTTP traffic for the dashboard server.
type Handler struct {
	store  storage.PriceStore
	ws     http.Handler
	log    *logger.Logger
	router *mux.Router
}

// New builds the router. The websocket handler is mounted at /ws.
func New(store storage.PriceStore, ws http.Handler, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{store: store, ws: ws, log: log, router: mux.NewRouter()}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.router.Handle("/ws", h.ws)
	h.router.Handle("/graph", metrics.Instrument("/graph", http.HandlerFunc(h.handleGraph))).Methods(http.MethodGet)
	h.router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	h.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	interval := r.URL.Query().Get("interval")

	graph, err := h.store.GraphData(r.Context(), period, interval)
	if err != nil {
		h.log.WithError(err).Warn("graph query failed")
		writeError(w, http.StatusInternalServerError, "graph query failed")
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
