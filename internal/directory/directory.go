// Package directory keeps the authoritative in-memory set of real participants.
//
// A Directory is owned by a single goroutine (the session loop) and is not
// safe for concurrent use; consumers read immutable snapshots.
package directory

import (
	"cmp"
	"slices"
	"time"

	"github.com/cwrk-planet/session-recorder/internal/domain"
)

type entry struct {
	seq    uint64
	record domain.Participant
}

type Directory struct {
	now      func() time.Time
	onRemove func(identity string)

	entries map[string]*entry
	seq     uint64
	version uint64
}

type Option func(*Directory)

// WithClock подменяет источник времени для joinedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithRemoveHook is called after a record has been removed.
func WithRemoveHook(fn func(identity string)) Option {
	return func(d *Directory) { d.onRemove = fn }
}

func New(opts ...Option) *Directory {
	d := &Directory{
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Upsert creates a default record when identity is unknown, applies fn and
// stores the result. Identity and JoinedAt cannot be changed by fn and
// LastSpokeAt never moves backwards. A result flagged IsRecorder is never
// stored; an existing record for that identity is dropped instead.
func (d *Directory) Upsert(identity string, fn func(domain.Participant) domain.Participant) (domain.Participant, bool) {
	e, ok := d.entries[identity]
	if !ok {
		d.seq++
		e = &entry{
			seq: d.seq,
			record: domain.Participant{
				Identity:    identity,
				DisplayName: identity,
				Role:        domain.RoleParticipant,
				JoinedAt:    d.now(),
			},
		}
	}

	prev := e.record
	next := prev
	if fn != nil {
		next = fn(prev)
	}
	next.Identity = prev.Identity
	next.JoinedAt = prev.JoinedAt
	if next.LastSpokeAt.Before(prev.LastSpokeAt) {
		next.LastSpokeAt = prev.LastSpokeAt
	}

	if next.IsRecorder {
		if ok {
			d.Remove(identity)
		}
		return domain.Participant{}, false
	}

	e.record = next
	if !ok {
		d.entries[identity] = e
	}
	d.version++
	return next, true
}

// Remove deletes the record and fires the remove hook. Unknown identities
// are ignored.
func (d *Directory) Remove(identity string) bool {
	if _, ok := d.entries[identity]; !ok {
		return false
	}
	delete(d.entries, identity)
	d.version++
	if d.onRemove != nil {
		d.onRemove(identity)
	}
	return true
}

func (d *Directory) Get(identity string) (domain.Participant, bool) {
	e, ok := d.entries[identity]
	if !ok {
		return domain.Participant{}, false
	}
	return e.record, true
}

func (d *Directory) Len() int { return len(d.entries) }

// Version increases on every mutation.
func (d *Directory) Version() uint64 { return d.version }

// Snapshot lists records in insertion order. The slice is a copy.
func (d *Directory) Snapshot() []domain.Participant {
	ordered := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]domain.Participant, len(ordered))
	for i, e := range ordered {
		out[i] = e.record
	}
	return out
}
