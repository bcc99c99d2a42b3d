// Package recording emits the begin/end markers an external recorder waits on.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	StartMarker = "START_RECORDING"
	EndMarker   = "END_RECORDING"
)

type Signaler interface {
	BeginRecording(ctx context.Context) error
	EndRecording(ctx context.Context) error
}

// Console пишет маркеры построчно, egress-раннер читает их из stdout.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

func (c *Console) BeginRecording(context.Context) error { return c.line(StartMarker) }
func (c *Console) EndRecording(context.Context) error   { return c.line(EndMarker) }

func (c *Console) line(marker string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, marker); err != nil {
		return fmt.Errorf("write %s: %w", marker, err)
	}
	return nil
}

// Multi delivers to every signaler and joins their errors.
type Multi []Signaler

func (m Multi) BeginRecording(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.BeginRecording(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) EndRecording(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.EndRecording(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Once forwards each signal at most once. EndRecording without a prior
// BeginRecording is still forwarded so a recorder that never started can stop.
type Once struct {
	next  Signaler
	begin sync.Once
	end   sync.Once
}

func NewOnce(next Signaler) *Once { return &Once{next: next} }

func (o *Once) BeginRecording(ctx context.Context) error {
	var err error
	o.begin.Do(func() { err = o.next.BeginRecording(ctx) })
	return err
}

func (o *Once) EndRecording(ctx context.Context) error {
	var err error
	o.end.Do(func() { err = o.next.EndRecording(ctx) })
	return err
}
