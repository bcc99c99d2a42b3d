package http

import (
	"net/http"
	"strconv"

	"github.com/cwrk-planet/session-recorder/internal/session"
	"github.com/cwrk-planet/session-recorder/internal/transport/dto"
)

type StateSource interface {
	State() *session.State
}

type Handler struct {
	source StateSource
}

func NewHandler(source StateSource) *Handler {
	return &Handler{source: source}
}

func (h *Handler) state(w http.ResponseWriter) (*session.State, bool) {
	st := h.source.State()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "session not ready", nil)
		return nil, false
	}
	return st, true
}

// GET /session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if st, found := h.state(w); found {
		ok(w, dto.FromState(st))
	}
}

// GET /session/participants[?role=host]
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	st, found := h.state(w)
	if !found {
		return
	}
	items := dto.FromParticipants(st.Participants)
	if role := r.URL.Query().Get("role"); role != "" {
		filtered := items[:0]
		for _, p := range items {
			if p.Role == role {
				filtered = append(filtered, p)
			}
		}
		items = filtered
	}
	ok(w, envelope{"session_id": st.SessionID, "participants": items, "count": len(items)})
}

// GET /session/participants/{identity}
func (h *Handler) Participant(w http.ResponseWriter, r *http.Request, identity string) {
	st, found := h.state(w)
	if !found {
		return
	}
	for _, p := range st.Participants {
		if p.Identity == identity {
			ok(w, dto.FromParticipant(p))
			return
		}
	}
	writeError(w, http.StatusNotFound, "participant not found", map[string]any{"identity": identity})
}

// GET /session/view
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	if st, found := h.state(w); found {
		ok(w, dto.FromView(st.View))
	}
}

// GET /session/readiness
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	st, found := h.state(w)
	if !found {
		return
	}
	w.Header().Set("X-Session-Version", strconv.FormatUint(st.Version, 10))
	ok(w, dto.FromReadiness(st.Readiness))
}
