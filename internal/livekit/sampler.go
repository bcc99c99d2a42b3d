package livekit

import (
	"errors"
	"math"
	"sync/atomic"
)

const bins = 128

var errSamplerClosed = errors.New("sampler closed")

type levelSource interface {
	AudioLevel() float32
}

// levelSampler spreads the server-reported audio level (0..1) over a flat
// spectrum in byte units, the shape activity.Measure expects.
type levelSampler struct {
	src    levelSource
	buf    []byte
	closed atomic.Bool
}

func newLevelSampler(src levelSource) *levelSampler {
	return &levelSampler{src: src, buf: make([]byte, bins)}
}

func (s *levelSampler) Sample() ([]byte, error) {
	if s.closed.Load() {
		return nil, errSamplerClosed
	}
	lvl := float64(s.src.AudioLevel())
	if math.IsNaN(lvl) || lvl < 0 {
		lvl = 0
	}
	v := byte(math.Round(math.Min(lvl, 1) * 255))
	for i := range s.buf {
		s.buf[i] = v
	}
	return s.buf, nil
}

func (s *levelSampler) Close() error {
	s.closed.Store(true)
	return nil
}
