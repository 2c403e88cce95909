package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"voiceavatar/agent/internal/health"
	"voiceavatar/agent/internal/journal"
	"voiceavatar/agent/internal/turn"
)

// Controller is the subset of turn.Controller the admin API drives.
type Controller interface {
	State() turn.State
	Ready() <-chan struct{}
	Stop(ctx context.Context) error
	Resume(ctx context.Context) error
	Say(ctx context.Context, text string) error
}

type Events interface {
	List() []journal.Event
	ListTurn(turnID string) []journal.Event
}

type Handlers struct {
	ctrl   Controller
	events Events
	probes []health.Probe
}

func NewHandlers(ctrl Controller, events Events, probes ...health.Probe) *Handlers {
	return &Handlers{ctrl: ctrl, events: events, probes: probes}
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.ctrl.Ready():
		writeJSON(w, http.StatusOK, map[string]any{"ready": true, "state": h.ctrl.State().String()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "state": h.ctrl.State().String()})
	}
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": h.ctrl.State().String()})
}

// HandleListEvents returns the journal, optionally filtered by ?turn=.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	var events []journal.Event
	if id := r.URL.Query().Get("turn"); id != "" {
		events = h.events.ListTurn(id)
	} else {
		events = h.events.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handlers) HandleServiceHealth(w http.ResponseWriter, r *http.Request) {
	st := health.CheckAll(r.Context(), h.probes...)
	status := http.StatusOK
	if !st.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.Stop(r.Context()))
}

func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.ctrl.Resume(r.Context()))
}

func (h *Handlers) HandleSay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
		return
	}
	h.respond(w, h.ctrl.Say(r.Context(), body.Text))
}

func (h *Handlers) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": h.ctrl.State().String()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, turn.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, turn.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, turn.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
