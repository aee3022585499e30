// Package channel connects the tracking store to the remote tracking service:
// typed events in, acknowledged commands out, over a pluggable frame transport.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"delivery-tracker/internal/tracking"
	appErrors "delivery-tracker/pkg/errors"
	"delivery-tracker/pkg/throttle"
)

const (
	DefaultPositionInterval = time.Second
	DefaultRestoreTimeout   = 10 * time.Second
)

type Options struct {
	// PositionInterval bounds how often position events reach the handler.
	// Zero means the default; a negative value disables throttling.
	PositionInterval time.Duration
	// RestoreTimeout bounds each resubscription after an automatic reconnect.
	RestoreTimeout time.Duration
	Logger         *zap.Logger
}

type ackResult struct {
	ack Ack
	err error
}

type positionEvent struct {
	epoch uint64
	ev    tracking.PositionUpdate
}

// Adapter implements tracking.Channel and tracking.IssueService on top of a
// Transport. It never calls the handler while holding its own lock.
type Adapter struct {
	transport      Transport
	log            *zap.Logger
	restoreTimeout time.Duration
	stats          *StatsTracker
	positions      *throttle.Throttle[positionEvent]

	mu sync.Mutex
	// epoch changes on every Open, Close and unrecoverable loss so callbacks
	// from an earlier connection are ignored.
	epoch         uint64
	handler       tracking.EventHandler
	connected     bool
	up            bool
	subscriptions map[string]struct{}
	pending       map[string]chan ackResult
}

var (
	_ tracking.Channel      = (*Adapter)(nil)
	_ tracking.IssueService = (*Adapter)(nil)
)

func NewAdapter(transport Transport, opts Options) *Adapter {
	a := &Adapter{
		transport:      transport,
		log:            opts.Logger,
		restoreTimeout: opts.RestoreTimeout,
		stats:          NewStatsTracker(),
		subscriptions:  make(map[string]struct{}),
		pending:        make(map[string]chan ackResult),
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.restoreTimeout <= 0 {
		a.restoreTimeout = DefaultRestoreTimeout
	}

	interval := opts.PositionInterval
	if interval == 0 {
		interval = DefaultPositionInterval
	}
	a.positions = throttle.New(interval, a.dispatchPosition)
	return a
}

// Open connects the transport and registers handler as the only listener.
func (a *Adapter) Open(ctx context.Context, credential string, handler tracking.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil event handler", appErrors.ErrInvalidInput)
	}
	if credential == "" {
		return appErrors.ErrMissingCredential
	}

	a.mu.Lock()
	if a.connected {
		a.handler = handler
		a.mu.Unlock()
		return nil
	}
	a.epoch++
	epoch := a.epoch
	a.handler = handler
	a.subscriptions = make(map[string]struct{})
	a.mu.Unlock()

	err := a.transport.Connect(ctx, credential, Callbacks{
		Receive:  func(frame []byte) { a.receive(epoch, frame) },
		Lost:     func(err error, retrying bool) { a.lost(epoch, err, retrying) },
		Restored: func() { go a.restore(epoch) },
	})

	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		if err == nil {
			_ = a.transport.Close()
		}
		return appErrors.ErrNotConnected
	}
	if err != nil {
		a.handler = nil
		a.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	a.connected = true
	a.up = true
	a.mu.Unlock()

	a.log.Info("Tracking channel open")
	return nil
}

// Subscribe asks the service for the delivery's feed and waits for the ack.
// Subscribing twice to the same delivery is a no-op.
func (a *Adapter) Subscribe(ctx context.Context, deliveryID string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return appErrors.ErrNotConnected
	}
	if _, ok := a.subscriptions[deliveryID]; ok && a.up {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if _, err := a.request(ctx, CommandTrack, deliveryID, nil); err != nil {
		return err
	}

	a.mu.Lock()
	if a.connected {
		a.subscriptions[deliveryID] = struct{}{}
	}
	a.mu.Unlock()

	a.log.Debug("Subscribed to delivery", zap.String("delivery_id", deliveryID))
	return nil
}

// Unsubscribe drops the delivery's feed. It does not wait for an ack.
func (a *Adapter) Unsubscribe(ctx context.Context, deliveryID string) error {
	a.mu.Lock()
	if _, ok := a.subscriptions[deliveryID]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.subscriptions, deliveryID)
	up := a.connected && a.up
	a.mu.Unlock()

	if !up {
		return nil
	}
	return a.send(ctx, CommandUntrack, deliveryID, nil)
}

func (a *Adapter) PushPosition(ctx context.Context, deliveryID string, position tracking.Position) error {
	_, err := a.request(ctx, CommandUpdatePosition, deliveryID, newPositionPayload(position))
	return err
}

func (a *Adapter) ReportIssue(ctx context.Context, report tracking.IssueReport) (string, error) {
	ack, err := a.request(ctx, CommandReportIssue, report.DeliveryID, reportIssuePayload{
		Type:        report.Type,
		Severity:    report.Severity,
		Description: report.Description,
	})
	if err != nil {
		return "", err
	}

	var body reportIssueAck
	if len(ack.Payload) > 0 {
		if err := json.Unmarshal(ack.Payload, &body); err != nil {
			return "", fmt.Errorf("decode report_issue ack: %w", err)
		}
	}
	return body.IssueID, nil
}

func (a *Adapter) ResolveIssue(ctx context.Context, issueID, resolutionNotes string) error {
	_, err := a.request(ctx, CommandResolveIssue, "", resolveIssuePayload{
		IssueID:         issueID,
		ResolutionNotes: resolutionNotes,
	})
	return err
}

// Close unregisters the handler, fails pending commands and closes the
// transport.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if !a.connected && a.handler == nil {
		a.mu.Unlock()
		return a.transport.Close()
	}
	a.epoch++
	a.handler = nil
	a.connected = false
	a.up = false
	a.subscriptions = make(map[string]struct{})
	pending := a.pending
	a.pending = make(map[string]chan ackResult)
	a.mu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: appErrors.ErrNotConnected}
	}

	a.log.Info("Tracking channel closed")
	return a.transport.Close()
}

// ListenerCount returns the number of registered handlers, zero or one.
func (a *Adapter) ListenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler == nil {
		return 0
	}
	return 1
}

// Subscriptions returns the recorded delivery subscriptions.
func (a *Adapter) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.subscriptions))
	for id := range a.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

func (a *Adapter) Stats() Stats {
	s := a.stats.Snapshot()
	s.PositionsCoalesced = a.positions.Coalesced()
	return s
}

// OnStatsChange registers a listener for stats updates.
func (a *Adapter) OnStatsChange(listener func(Stats)) {
	a.stats.OnChange(listener)
}

func (a *Adapter) request(ctx context.Context, typ, deliveryID string, payload any) (Ack, error) {
	a.mu.Lock()
	if !a.connected || !a.up {
		a.mu.Unlock()
		return Ack{}, appErrors.ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan ackResult, 1)
	a.pending[id] = ch
	a.mu.Unlock()

	frame, err := encodeEnvelope(typ, id, deliveryID, payload)
	if err != nil {
		a.dropPending(id)
		return Ack{}, err
	}
	if err := a.transport.Send(ctx, frame); err != nil {
		a.dropPending(id)
		return Ack{}, fmt.Errorf("send %s: %w", typ, err)
	}
	a.stats.Update(func(s *Stats) { s.FramesSent++ })

	select {
	case res := <-ch:
		if res.err != nil {
			return Ack{}, res.err
		}
		if !res.ack.OK {
			a.stats.Update(func(s *Stats) { s.CommandsRejected++ })
			return res.ack, fmt.Errorf("%w: %s: %s", appErrors.ErrCommandRejected, typ, res.ack.Error)
		}
		return res.ack, nil
	case <-ctx.Done():
		a.dropPending(id)
		a.stats.Update(func(s *Stats) { s.AckTimeouts++ })
		return Ack{}, fmt.Errorf("%w: %s: %v", appErrors.ErrAckTimeout, typ, ctx.Err())
	}
}

func (a *Adapter) send(ctx context.Context, typ, deliveryID string, payload any) error {
	frame, err := encodeEnvelope(typ, uuid.NewString(), deliveryID, payload)
	if err != nil {
		return err
	}
	if err := a.transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	a.stats.Update(func(s *Stats) { s.FramesSent++ })
	return nil
}

func (a *Adapter) dropPending(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

func (a *Adapter) receive(epoch uint64, frame []byte) {
	a.stats.Update(func(s *Stats) { s.FramesReceived++ })

	env, err := DecodeEnvelope(frame)
	if err != nil {
		a.stats.Update(func(s *Stats) { s.DecodeErrors++ })
		a.log.Warn("Dropped malformed frame", zap.Error(err))
		return
	}

	if env.Type == TypeAck {
		a.resolveAck(env)
		return
	}

	ev, err := DecodeEvent(env)
	if err != nil {
		a.stats.Update(func(s *Stats) { s.DecodeErrors++ })
		a.log.Warn("Dropped invalid event", zap.String("type", env.Type), zap.Error(err))
		return
	}

	if update, ok := ev.(tracking.PositionUpdate); ok {
		a.positions.Submit(positionEvent{epoch: epoch, ev: update})
		return
	}

	a.mu.Lock()
	h := a.handler
	current := epoch == a.epoch
	a.mu.Unlock()
	if !current || h == nil {
		return
	}

	switch e := ev.(type) {
	case tracking.InitialState:
		h.OnInitialState(e)
	case tracking.StatusUpdate:
		h.OnStatusUpdate(e)
	case tracking.EtaUpdate:
		h.OnEtaUpdate(e)
	case tracking.CheckpointReached:
		h.OnCheckpointReached(e)
	case tracking.IssueReported:
		h.OnIssueReported(e)
	}
	a.markDispatched()
}

func (a *Adapter) dispatchPosition(pe positionEvent) {
	a.mu.Lock()
	h := a.handler
	current := pe.epoch == a.epoch
	a.mu.Unlock()
	if !current || h == nil {
		return
	}

	h.OnPositionUpdate(pe.ev)
	a.markDispatched()
}

func (a *Adapter) markDispatched() {
	now := time.Now()
	a.stats.Update(func(s *Stats) {
		s.EventsDispatched++
		s.LastEventAt = now
	})
}

func (a *Adapter) resolveAck(env Envelope) {
	a.mu.Lock()
	ch, ok := a.pending[env.ID]
	delete(a.pending, env.ID)
	a.mu.Unlock()

	if !ok {
		a.log.Debug("Ack for unknown command", zap.String("id", env.ID))
		return
	}
	a.stats.Update(func(s *Stats) { s.AcksReceived++ })
	ch <- ackResult{ack: *env.Ack}
}

func (a *Adapter) lost(epoch uint64, err error, retrying bool) {
	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		return
	}
	h := a.handler
	a.up = false
	var pending map[string]chan ackResult
	if !retrying {
		a.epoch++
		a.handler = nil
		a.connected = false
		a.subscriptions = make(map[string]struct{})
		pending = a.pending
		a.pending = make(map[string]chan ackResult)
	}
	a.mu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: appErrors.ErrConnectionLost}
	}
	a.stats.Update(func(s *Stats) { s.ConnectionsLost++ })
	a.log.Warn("Tracking channel lost", zap.Bool("retrying", retrying), zap.Error(err))

	if h == nil {
		return
	}
	switch {
	case err == nil && !retrying:
		h.OnDisconnect()
	case err == nil:
		// The transport redials by itself, so the session is not over yet.
		h.OnError(appErrors.ErrConnectionLost)
	default:
		h.OnError(fmt.Errorf("%w: %v", appErrors.ErrConnectionLost, err))
	}
}

// restore re-issues recorded subscriptions after the transport reconnected,
// then reports the connection as live.
func (a *Adapter) restore(epoch uint64) {
	a.mu.Lock()
	if epoch != a.epoch || !a.connected {
		a.mu.Unlock()
		return
	}
	a.up = true
	ids := make([]string, 0, len(a.subscriptions))
	for id := range a.subscriptions {
		ids = append(ids, id)
	}
	h := a.handler
	a.mu.Unlock()

	a.stats.Update(func(s *Stats) { s.Reconnects++ })

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), a.restoreTimeout)
		_, err := a.request(ctx, CommandTrack, id, nil)
		cancel()
		if err != nil {
			a.log.Warn("Failed to restore subscription", zap.String("delivery_id", id), zap.Error(err))
			if h != nil {
				h.OnError(fmt.Errorf("resubscribe %s: %w", id, err))
			}
			return
		}
	}

	a.log.Info("Tracking channel restored", zap.Int("subscriptions", len(ids)))
	if h != nil {
		h.OnConnect()
	}
}
