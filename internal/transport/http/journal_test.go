package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/session-recorder/internal/postgres"
)

type fakeJournal struct {
	entries []postgres.Entry
	err     error

	gotSession string
	gotPage    postgres.Page
}

func (f *fakeJournal) History(_ context.Context, sessionID string, page postgres.Page) ([]postgres.Entry, string, error) {
	f.gotSession, f.gotPage = sessionID, page
	if f.err != nil {
		return nil, "", f.err
	}
	return f.entries, "next-page", nil
}

func journalRouter(j JournalSource) http.Handler {
	return NewRouter(Deps{
		Source:    staticSource{fixture()},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Journal:   j,
		SessionID: "s1",
	})
}

func TestJournalHistory(t *testing.T) {
	at := time.Unix(1_700_000_000, 0).UTC()
	j := &fakeJournal{entries: []postgres.Entry{
		{ID: uuid.NewString(), SessionID: "s1", Kind: "participant_joined", Identity: "a", DisplayName: "Ada", At: at},
	}}
	after := postgres.Cursor{At: at, ID: uuid.New()}.String()

	rec, body := get(t, journalRouter(j), "/session/journal?limit=10&after="+after)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %v", rec.Code, body)
	}
	if j.gotSession != "s1" || j.gotPage.Limit != 10 || j.gotPage.After != after {
		t.Fatalf("query = %q %+v", j.gotSession, j.gotPage)
	}
	data := body["data"].(map[string]any)
	entries := data["entries"].([]any)
	if len(entries) != 1 || data["next"] != "next-page" {
		t.Fatalf("data = %v", data)
	}
	if e := entries[0].(map[string]any); e["kind"] != "participant_joined" || e["display_name"] != "Ada" {
		t.Fatalf("entry = %v", e)
	}
}

func TestJournalRejectsBadPage(t *testing.T) {
	j := &fakeJournal{}
	for _, q := range []string{"?limit=ten", "?limit=0", "?after=!!"} {
		rec, body := get(t, journalRouter(j), "/session/journal"+q)
		if rec.Code != http.StatusBadRequest || body["error"] == nil {
			t.Fatalf("%s: got %d %v", q, rec.Code, body)
		}
	}
	if j.gotSession != "" {
		t.Fatalf("bad page must not reach the journal")
	}
}

func TestJournalUnavailable(t *testing.T) {
	rec, _ := get(t, journalRouter(&fakeJournal{err: errors.New("db down")}), "/session/journal")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestJournalRouteDisabled(t *testing.T) {
	rec, _ := get(t, newTestRouter(fixture()), "/session/journal")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without a journal", rec.Code)
	}
}
