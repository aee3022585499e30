// Package trackingtest provides in-memory collaborators for exercising a
// tracking.Store without a network or a database.
package trackingtest

import (
	"context"
	"sync"

	"delivery-tracker/internal/tracking"
	appErrors "delivery-tracker/pkg/errors"
)

// FakeChannel records every call and lets tests drive the registered handler.
type FakeChannel struct {
	mu sync.Mutex

	OpenErr      error
	SubscribeErr error
	PushErr      error
	// SubscribeFunc, when set, runs before the subscription is recorded and
	// may block to simulate a slow acknowledgement.
	SubscribeFunc func(ctx context.Context, deliveryID string) error

	handler       tracking.EventHandler
	open          bool
	subscriptions map[string]bool

	opens        int
	subscribes   int
	unsubscribes int
	closes       int
	credentials  []string
	pushed       []tracking.Position
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{subscriptions: make(map[string]bool)}
}

func (f *FakeChannel) Open(_ context.Context, credential string, handler tracking.EventHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return f.OpenErr
	}
	if f.open {
		f.handler = handler
		return nil
	}
	f.open = true
	f.handler = handler
	f.opens++
	f.credentials = append(f.credentials, credential)
	return nil
}

func (f *FakeChannel) Subscribe(ctx context.Context, deliveryID string) error {
	f.mu.Lock()
	hook := f.SubscribeFunc
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, deliveryID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return appErrors.ErrNotConnected
	}
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	if f.subscriptions[deliveryID] {
		return nil
	}
	f.subscriptions[deliveryID] = true
	f.subscribes++
	return nil
}

func (f *FakeChannel) Unsubscribe(_ context.Context, deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.subscriptions[deliveryID] {
		return nil
	}
	delete(f.subscriptions, deliveryID)
	f.unsubscribes++
	return nil
}

func (f *FakeChannel) PushPosition(_ context.Context, _ string, position tracking.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return appErrors.ErrNotConnected
	}
	if f.PushErr != nil {
		return f.PushErr
	}
	f.pushed = append(f.pushed, position)
	return nil
}

func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return nil
	}
	f.open = false
	f.handler = nil
	f.subscriptions = make(map[string]bool)
	f.closes++
	return nil
}

// Handler returns the registered handler, or nil once closed.
func (f *FakeChannel) Handler() tracking.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

// ListenerCount returns how many handlers are registered.
func (f *FakeChannel) ListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler == nil {
		return 0
	}
	return 1
}

// Connected reports whether the channel is open.
func (f *FakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Subscribed reports whether deliveryID holds an acknowledged subscription.
func (f *FakeChannel) Subscribed(deliveryID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[deliveryID]
}

func (f *FakeChannel) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *FakeChannel) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *FakeChannel) Unsubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribes
}

func (f *FakeChannel) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *FakeChannel) Credentials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.credentials...)
}

func (f *FakeChannel) Pushed() []tracking.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracking.Position(nil), f.pushed...)
}

// StaticToken is a CredentialSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", appErrors.ErrMissingCredential
	}
	return string(t), nil
}

// MemoryPersister keeps the last saved snapshot.
type MemoryPersister struct {
	mu     sync.Mutex
	last   *tracking.Snapshot
	saves  int
	clears int
}

func (p *MemoryPersister) Save(_ context.Context, snapshot tracking.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := snapshot.Clone()
	p.last = &s
	p.saves++
	return nil
}

func (p *MemoryPersister) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = nil
	p.clears++
	return nil
}

// Last returns the last saved snapshot, if any.
func (p *MemoryPersister) Last() (tracking.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return tracking.Snapshot{}, false
	}
	return p.last.Clone(), true
}

func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func (p *MemoryPersister) Clears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears
}
