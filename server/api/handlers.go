package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/pawl/agent"
	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/task"
)

const (
	defaultEventLimit = 50
	maxMemoryK        = 100
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Loop    Loop
	Journal task.Journal
	Bus     comms.Bus
	Memory  Retriever
	Logger  *slog.Logger
	Version string
	StartAt int64 // unix timestamp of server start
}

// RegisterRoutes registers the protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/loop", h.getLoop)
	mux.HandleFunc("POST /api/loop/stop", h.stopLoop)
	mux.HandleFunc("POST /api/loop/tasks", h.addTask)

	mux.HandleFunc("GET /api/history", h.listHistory)
	mux.HandleFunc("GET /api/memory", h.queryMemory)
	mux.HandleFunc("GET /api/events", h.listEvents)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// intParam parses the query parameter name, returning def when absent.
func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// --- Loop handlers ---

func (h *Handlers) getLoop(w http.ResponseWriter, _ *http.Request) {
	if h.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "no loop attached")
		return
	}
	writeJSON(w, http.StatusOK, h.Loop.Info())
}

func (h *Handlers) stopLoop(w http.ResponseWriter, _ *http.Request) {
	if h.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "no loop attached")
		return
	}
	h.Loop.Stop()
	h.logger().Info("loop stop requested over api")
	w.WriteHeader(http.StatusAccepted)
}

type addTaskRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) addTask(w http.ResponseWriter, r *http.Request) {
	if h.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "no loop attached")
		return
	}
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.Loop.AddTask(req.Name); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// --- Journal handlers ---

func (h *Handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeJSON(w, http.StatusOK, []task.Entry{})
		return
	}
	q := r.URL.Query()
	filter := task.Filter{RunID: q.Get("run_id")}
	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		if st != task.StatusCompleted && st != task.StatusFailed {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = &st
	}
	var ok bool
	if filter.Limit, ok = intParam(r, "limit", 0); !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, ok = intParam(r, "offset", 0); !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	entries, err := h.Journal.List(r.Context(), filter)
	if err != nil {
		h.logger().Error("list journal", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []task.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Memory handlers ---

func (h *Handlers) queryMemory(w http.ResponseWriter, r *http.Request) {
	if h.Memory == nil {
		writeError(w, http.StatusServiceUnavailable, "no memory store attached")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, ok := intParam(r, "k", agent.DefaultContextK)
	if !ok || k > maxMemoryK {
		writeError(w, http.StatusBadRequest, "invalid k")
		return
	}

	matches, err := h.Memory.Matches(r.Context(), query, k)
	if err != nil {
		h.logger().Error("query memory", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if matches == nil {
		matches = []memory.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// --- Event handlers ---

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusOK, []*comms.Event{})
		return
	}
	limit, ok := intParam(r, "limit", defaultEventLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	events, err := h.Bus.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*comms.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Status ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"version":  h.Version,
		"start_at": h.StartAt,
	}
	if h.Loop != nil {
		resp["loop"] = h.Loop.Info().Status
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}
