package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/session"
)

type appender interface {
	Append(ctx context.Context, e Entry) error
}

const (
	journalBuffer = 128
	appendTimeout = 3 * time.Second
)

// Journal writes session notifications in the background. When the queue is
// full new entries are dropped and logged; after Close they are ignored.
type Journal struct {
	repo appender
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Entry
	wg     sync.WaitGroup
}

func NewJournal(repo appender, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{repo: repo, log: log, queue: make(chan Entry, journalBuffer)}
	j.wg.Add(1)
	go j.loop()
	return j
}

func (j *Journal) StateChanged(*session.State) {}

func (j *Journal) Notify(n session.Notification) {
	e := Entry{
		ID:          n.ID.String(),
		SessionID:   n.SessionID,
		Kind:        journalKind(n.Kind),
		Identity:    n.Identity,
		DisplayName: n.DisplayName,
		Role:        string(n.Role),
		Reason:      n.Reason,
		At:          n.At,
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- e:
	default:
		j.log.Warn("journal queue full, entry dropped", slog.String("kind", e.Kind))
	}
}

// Close drains the queue and stops the worker.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Journal) loop() {
	defer j.wg.Done()
	for e := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := j.repo.Append(ctx, e); err != nil {
			j.log.Error("journal append failed", slog.String("kind", e.Kind), slog.Any("err", err))
		}
		cancel()
	}
}

func journalKind(k session.NotificationKind) string {
	switch k {
	case session.KindJoin:
		return "participant_joined"
	case session.KindLeave:
		return "participant_left"
	default:
		return string(k)
	}
}
