package channel

import (
	"sync"
	"time"
)

// Stats tracks traffic on the tracking channel.
type Stats struct {
	FramesReceived     int64     `json:"frames_received"`
	FramesSent         int64     `json:"frames_sent"`
	EventsDispatched   int64     `json:"events_dispatched"`
	DecodeErrors       int64     `json:"decode_errors"`
	AcksReceived       int64     `json:"acks_received"`
	AckTimeouts        int64     `json:"ack_timeouts"`
	CommandsRejected   int64     `json:"commands_rejected"`
	PositionsCoalesced int64     `json:"positions_coalesced"`
	ConnectionsLost    int64     `json:"connections_lost"`
	Reconnects         int64     `json:"reconnects"`
	LastEventAt        time.Time `json:"last_event_at"`
}

// StatsTracker provides a goroutine-safe wrapper around Stats.
type StatsTracker struct {
	mu        sync.RWMutex
	stats     Stats
	listeners []func(Stats)
}

func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Update applies a mutation in a thread-safe way.
func (t *StatsTracker) Update(fn func(*Stats)) {
	if fn == nil {
		return
	}

	t.mu.Lock()
	fn(&t.stats)
	snapshot := t.stats
	listeners := append(([]func(Stats))(nil), t.listeners...)
	t.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// Snapshot returns a copy of the current stats.
func (t *StatsTracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Reset clears accumulated stats.
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Stats{}
}

// OnChange registers a callback invoked after every update.
func (t *StatsTracker) OnChange(listener func(Stats)) {
	if listener == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}
