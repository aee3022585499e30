package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"delivery-tracker/internal/tracking"
)

const (
	DefaultKey = "delivery-tracking"
	DefaultTTL = 60 * time.Minute

	MaxPositions     = 50
	MaxEtaEstimates  = 10
	MaxStatusHistory = 20

	recordVersion = 1
)

type Options struct {
	Key    string
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

type record struct {
	Version  int               `json:"version"`
	SavedAt  time.Time         `json:"saved_at"`
	Snapshot tracking.Snapshot `json:"snapshot"`
}

// OfflineCache keeps one trimmed tracking snapshot in a KV backend.
type OfflineCache struct {
	kv  KV
	key string
	ttl time.Duration
	now func() time.Time
	log *zap.Logger
}

var _ tracking.Persister = (*OfflineCache)(nil)

func NewOfflineCache(kv KV, opts Options) *OfflineCache {
	c := &OfflineCache{
		kv:  kv,
		key: opts.Key,
		ttl: opts.TTL,
		now: opts.Clock,
		log: opts.Logger,
	}
	if c.key == "" {
		c.key = DefaultKey
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Save stores snapshot trimmed to the persisted history limits.
func (c *OfflineCache) Save(ctx context.Context, snapshot tracking.Snapshot) error {
	raw, err := json.Marshal(record{
		Version:  recordVersion,
		SavedAt:  c.now(),
		Snapshot: Trim(snapshot),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.kv.Put(ctx, c.key, raw)
}

// Load returns the cached snapshot. Expired, undated or unreadable entries
// are deleted and reported as not found.
func (c *OfflineCache) Load(ctx context.Context) (tracking.Snapshot, bool, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return tracking.Snapshot{}, false, nil
	}
	if err != nil {
		return tracking.Snapshot{}, false, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Version != recordVersion {
		c.log.Warn("Discarding unreadable tracking cache", zap.Error(err), zap.Int("version", rec.Version))
		return tracking.Snapshot{}, false, c.kv.Delete(ctx, c.key)
	}

	updated := rec.Snapshot.LastUpdateTime
	if updated.IsZero() || c.now().Sub(updated) > c.ttl {
		c.log.Info("Discarding expired tracking cache",
			zap.String("delivery_id", rec.Snapshot.DeliveryID),
			zap.Time("last_update", updated),
		)
		return tracking.Snapshot{}, false, c.kv.Delete(ctx, c.key)
	}

	return rec.Snapshot, true, nil
}

func (c *OfflineCache) Clear(ctx context.Context) error {
	return c.kv.Delete(ctx, c.key)
}

// Trim keeps the most recent entries of each bounded history.
func Trim(s tracking.Snapshot) tracking.Snapshot {
	out := s.Clone()
	out.Positions = tail(out.Positions, MaxPositions)
	out.EtaHistory = tail(out.EtaHistory, MaxEtaEstimates)
	out.StatusHistory = tail(out.StatusHistory, MaxStatusHistory)
	return out
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
