// Package export serves stored session data read-only over HTTP, together
// with the pipeline's prometheus metrics.
package export

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/logging"
	"github.com/danielpatrickdp/studytrack/internal/metrics"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

type handler struct {
	store  store.Store
	logger *log.Logger
}

// NewRouter builds the export routes over s. gatherer backs /metrics; nil
// uses the default registry.
func NewRouter(s store.Store, gatherer prometheus.Gatherer, logger *log.Logger) *mux.Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handler{store: s, logger: logging.OrDiscard(logger)}

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/sessions", h.listSessions).Methods("GET")
	r.HandleFunc("/sessions/{id}/events", h.events).Methods("GET")
	r.HandleFunc("/sessions/{id}/history", h.history).Methods("GET")
	r.HandleFunc("/sessions/{id}/dvs", h.dvs).Methods("GET")
	r.HandleFunc("/sessions/{id}/fallback/{category}", h.fallback).Methods("GET")
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := store.SessionIDs(r.Context(), h.store)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	l, err := eventlog.Open(h.store, mux.Vars(r)["id"], h.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := l.Events(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	l, err := eventlog.Open(h.store, mux.Vars(r)["id"], h.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := eventlog.History[tracker.ScenarioTracking](r.Context(), l)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []tracker.ScenarioTracking{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *handler) dvs(w http.ResponseWriter, r *http.Request) {
	var dvs metrics.SessionDVs
	err := store.ReadJSON(r.Context(), h.store, store.DVsKey(mux.Vars(r)["id"]), &dvs)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session metrics not derived")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dvs)
}

func (h *handler) fallback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category, err := remote.ParseTable(vars["category"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := store.ReadList[pipeline.Entry](r.Context(), h.store, store.FallbackKey(vars["id"], string(category)), h.logger)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []pipeline.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("export request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
