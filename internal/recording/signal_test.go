package recording

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type countingSignaler struct {
	begins, ends int
	err          error
}

func (c *countingSignaler) BeginRecording(context.Context) error { c.begins++; return c.err }
func (c *countingSignaler) EndRecording(context.Context) error   { c.ends++; return c.err }

func TestConsoleMarkers(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	ctx := context.Background()
	if err := c.BeginRecording(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.EndRecording(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if got := buf.String(); got != "START_RECORDING\nEND_RECORDING\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestOnceForwardsAtMostOnce(t *testing.T) {
	inner := &countingSignaler{}
	o := NewOnce(inner)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = o.BeginRecording(ctx)
		_ = o.EndRecording(ctx)
	}
	if inner.begins != 1 || inner.ends != 1 {
		t.Fatalf("begins=%d ends=%d, want 1/1", inner.begins, inner.ends)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &countingSignaler{}
	b := &countingSignaler{err: boom}
	m := Multi{a, b}

	err := m.BeginRecording(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if a.begins != 1 || b.begins != 1 {
		t.Fatalf("every signaler must be called: a=%d b=%d", a.begins, b.begins)
	}
}

func TestMQTTNotConnected(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "tcp://127.0.0.1:1", Topic: "t"}, "s1", nil)
	if err := m.BeginRecording(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	m.Close()
}
