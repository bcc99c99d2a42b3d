package domain

import "errors"

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrNoSampler        = errors.New("level sampler unavailable")
	ErrStatsUnavailable = errors.New("track stats unavailable")
	ErrAlreadyStarted   = errors.New("session already running")
)
