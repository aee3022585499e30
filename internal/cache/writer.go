package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"delivery-tracker/internal/tracking"
	"delivery-tracker/pkg/throttle"
)

const (
	DefaultWriteInterval = 2 * time.Second
	writeTimeout         = 5 * time.Second
)

type pendingSave struct {
	generation uint64
	snapshot   tracking.Snapshot
}

// Writer rate-limits saves to a Persister. Bursts collapse into one trailing
// write of the latest snapshot.
type Writer struct {
	target   tracking.Persister
	throttle *throttle.Throttle[pendingSave]
	log      *zap.Logger

	mu         sync.Mutex
	generation uint64
}

var _ tracking.Persister = (*Writer)(nil)

func NewWriter(target tracking.Persister, interval time.Duration, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{target: target, log: log}
	w.throttle = throttle.New(interval, w.write)
	return w
}

func (w *Writer) Save(_ context.Context, snapshot tracking.Snapshot) error {
	w.mu.Lock()
	gen := w.generation
	w.mu.Unlock()

	w.throttle.Submit(pendingSave{generation: gen, snapshot: snapshot})
	return nil
}

// Clear drops any pending save, then clears the target.
func (w *Writer) Clear(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.generation++
	return w.target.Clear(ctx)
}

// Flush writes the pending snapshot now.
func (w *Writer) Flush() {
	w.throttle.Flush()
}

// Close flushes and stops accepting saves.
func (w *Writer) Close() {
	w.throttle.Flush()
	w.throttle.Stop()
}

func (w *Writer) write(p pendingSave) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.generation != w.generation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.target.Save(ctx, p.snapshot); err != nil {
		w.log.Warn("Failed to write tracking cache", zap.Error(err))
	}
}
