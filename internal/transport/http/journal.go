package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/session-recorder/internal/postgres"
	"github.com/cwrk-planet/session-recorder/internal/transport/dto"
)

// JournalSource отдаёт сохранённую историю событий сессии.
type JournalSource interface {
	History(ctx context.Context, sessionID string, page postgres.Page) ([]postgres.Entry, string, error)
}

type JournalHandler struct {
	journal   JournalSource
	sessionID string
	log       *slog.Logger
}

func NewJournalHandler(j JournalSource, sessionID string, log *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: j, sessionID: sessionID, log: log}
}

// GET /session/journal?after=&limit=
func (h *JournalHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := postgres.ParsePage(q.Get("after"), q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page", map[string]any{"err": err.Error()})
		return
	}

	entries, next, err := h.journal.History(r.Context(), h.sessionID, page)
	switch {
	case errors.Is(err, postgres.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid page", map[string]any{"err": err.Error()})
		return
	case err != nil:
		h.log.Error("journal history failed", slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "journal unavailable", nil)
		return
	}

	ok(w, envelope{
		"session_id": h.sessionID,
		"entries":    dto.FromEntries(entries),
		"next":       next,
	})
}
