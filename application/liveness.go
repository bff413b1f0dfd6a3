package application

import (
	"sync"
	"time"
)

const (
	DefaultLivenessTimeout = 15 * time.Second
	DefaultSweepInterval   = 5 * time.Second
)

// LivenessTracker remembers when each device was last heard from. Entries are
// never removed; a silent device simply goes stale.
type LivenessTracker struct {
	mu       sync.Mutex
	lastSeen map[string]int64 // unix millis
	timeout  time.Duration
}

func NewLivenessTracker(timeout time.Duration) *LivenessTracker {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &LivenessTracker{
		lastSeen: map[string]int64{},
		timeout:  timeout,
	}
}

func (l *LivenessTracker) RecordSeen(deviceID string, at time.Time) {
	l.mu.Lock()
	l.lastSeen[deviceID] = at.UnixMilli()
	l.mu.Unlock()
}

// Expired returns the devices silent for longer than the timeout as of now.
func (l *LivenessTracker) Expired(now time.Time) []string {
	nowMs := now.UnixMilli()
	timeoutMs := l.timeout.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []string
	for deviceID, seenMs := range l.lastSeen {
		if nowMs-seenMs > timeoutMs {
			expired = append(expired, deviceID)
		}
	}
	return expired
}

// LastSeen returns the recorded wall-clock time for the device, if any.
func (l *LivenessTracker) LastSeen(deviceID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seenMs, ok := l.lastSeen[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(seenMs), true
}
