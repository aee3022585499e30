// Package tracking holds the live delivery tracking state machine: the
// session state, the inbound event handling and the derived travel metrics.
package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"delivery-tracker/internal/validator"
	appErrors "delivery-tracker/pkg/errors"
)

const (
	DefaultHistoryCap       = 1000
	DefaultAckTimeout       = 10 * time.Second
	DefaultIssueMatchWindow = 10 * time.Minute
)

// Dependencies are the collaborators the store talks to. Only Channel and
// Credentials are needed for online tracking; a nil Persister disables
// snapshot persistence.
type Dependencies struct {
	Channel     Channel
	Issues      IssueService
	Credentials CredentialSource
	Persister   Persister
}

// Options tune the store. Zero values fall back to the defaults above.
type Options struct {
	HistoryCap       int
	AckTimeout       time.Duration
	IssueMatchWindow time.Duration
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Store owns one tracking session. Commands and inbound events are
// serialized by mu; no network call is made while mu is held.
type Store struct {
	channel     Channel
	issues      IssueService
	credentials CredentialSource
	persister   Persister

	historyCap       int
	ackTimeout       time.Duration
	issueMatchWindow time.Duration
	now              func() time.Time
	log              *zap.Logger

	mu    sync.Mutex
	state Snapshot
	// generation changes whenever a pending acknowledgement must be ignored:
	// stop, reset, offline switch, new session or a new connection attempt.
	generation uint64
	applied    uint64
	// cancelConnect aborts the credential, open and subscribe waits of the
	// connection attempt started under the current generation.
	cancelConnect context.CancelFunc
}

// NewStore builds a store in the disconnected, empty state.
func NewStore(deps Dependencies, opts Options) *Store {
	s := &Store{
		channel:          deps.Channel,
		issues:           deps.Issues,
		credentials:      deps.Credentials,
		persister:        deps.Persister,
		historyCap:       opts.HistoryCap,
		ackTimeout:       opts.AckTimeout,
		issueMatchWindow: opts.IssueMatchWindow,
		now:              opts.Clock,
		log:              opts.Logger,
		state:            emptySnapshot(),
	}
	if s.historyCap <= 0 {
		s.historyCap = DefaultHistoryCap
	}
	if s.ackTimeout <= 0 {
		s.ackTimeout = DefaultAckTimeout
	}
	if s.issueMatchWindow <= 0 {
		s.issueMatchWindow = DefaultIssueMatchWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Positions:       []Position{},
		EtaHistory:      []EtaEstimate{},
		Checkpoints:     []Checkpoint{},
		StatusHistory:   []StatusTransition{},
		Issues:          []Issue{},
		Metrics:         Metrics{Proximity: ProximityNone},
		ConnectionState: StateDisconnected,
	}
}

// StartTracking binds the store to deliveryID and subscribes to its feed.
// A different delivery id replaces the current session and its data.
func (s *Store) StartTracking(ctx context.Context, deliveryID string) bool {
	if deliveryID == "" {
		return false
	}

	s.mu.Lock()
	if s.state.DeliveryID == deliveryID && s.state.ConnectionState == StateConnected {
		s.mu.Unlock()
		return true
	}

	previous := s.state.DeliveryID
	if previous != deliveryID {
		offline := s.state.Offline
		s.state = emptySnapshot()
		s.state.DeliveryID = deliveryID
		s.state.Offline = offline
	}

	gen := s.bumpLocked()
	s.state.ConnectionState = StateConnecting
	s.state.ConnectionError = ""

	if s.state.Offline {
		s.state.ConnectionState = StateDisconnected
		s.touchLocked()
		s.recomputeLocked()
		s.persistLocked()
		s.mu.Unlock()

		s.log.Info("Tracking started from offline cache", zap.String("delivery_id", deliveryID))
		return true
	}
	s.mu.Unlock()

	if previous != "" && previous != deliveryID && s.channel != nil {
		s.unsubscribe(ctx, previous)
	}

	return s.connect(ctx, gen, deliveryID)
}

// StopTracking unsubscribes and closes the channel. Session data is kept.
func (s *Store) StopTracking(ctx context.Context) {
	s.mu.Lock()
	deliveryID := s.state.DeliveryID
	s.bumpLocked()
	s.state.ConnectionState = StateDisconnected
	s.persistLocked()
	s.mu.Unlock()

	if s.channel == nil {
		return
	}
	if deliveryID != "" {
		s.unsubscribe(ctx, deliveryID)
	}
	if err := s.channel.Close(); err != nil {
		s.log.Warn("Failed to close tracking channel", zap.Error(err))
	}

	s.log.Info("Tracking stopped", zap.String("delivery_id", deliveryID))
}

// UpdatePosition reports the agent's own position. Offline it is recorded
// locally; online it is only recorded once the feed echoes it back.
func (s *Store) UpdatePosition(ctx context.Context, in PositionInput) bool {
	if err := validator.ValidateStruct(in); err != nil {
		s.log.Warn("Rejected position update", zap.Error(err))
		return false
	}

	s.mu.Lock()
	deliveryID := s.state.DeliveryID
	if deliveryID == "" {
		s.mu.Unlock()
		return false
	}

	position := in.At(s.now())
	if s.state.Offline {
		s.addPositionLocked(position)
		s.touchLocked()
		s.recomputeLocked()
		s.persistLocked()
		s.mu.Unlock()
		return true
	}
	gen := s.generation
	s.mu.Unlock()

	if s.channel == nil {
		return false
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	if err := s.channel.PushPosition(ackCtx, deliveryID, position); err != nil {
		s.log.Warn("Position update not acknowledged",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return false
	}

	return s.isCurrent(gen)
}

// Reconnect reopens the channel and resubscribes the current session. It only
// acts from the error or disconnected state and never while offline.
func (s *Store) Reconnect(ctx context.Context) bool {
	s.mu.Lock()
	deliveryID := s.state.DeliveryID
	if deliveryID == "" || s.state.Offline {
		s.mu.Unlock()
		return false
	}
	if s.state.ConnectionState != StateError && s.state.ConnectionState != StateDisconnected {
		s.mu.Unlock()
		return false
	}

	gen := s.bumpLocked()
	s.state.ConnectionState = StateConnecting
	s.state.ConnectionError = ""
	s.mu.Unlock()

	s.log.Info("Reconnecting tracking channel", zap.String("delivery_id", deliveryID))
	return s.connect(ctx, gen, deliveryID)
}

// RefreshState resubscribes so the service resends a full initial state.
func (s *Store) RefreshState(ctx context.Context) bool {
	s.mu.Lock()
	deliveryID := s.state.DeliveryID
	if deliveryID == "" || s.state.Offline {
		s.mu.Unlock()
		return false
	}
	if s.state.ConnectionState != StateConnected {
		s.mu.Unlock()
		s.Reconnect(ctx)
		return false
	}
	gen := s.generation
	s.mu.Unlock()

	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	if err := s.channel.Unsubscribe(ackCtx, deliveryID); err != nil {
		s.log.Warn("Failed to unsubscribe before refresh", zap.Error(err))
	}
	err := s.channel.Subscribe(ackCtx, deliveryID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}
	if err != nil {
		s.failLocked(fmt.Errorf("refresh %s: %w", deliveryID, err))
		return false
	}
	s.touchLocked()
	s.persistLocked()
	return true
}

// SetOfflineMode switches offline mode. Going offline closes the channel but
// keeps all data; coming back online reconnects an existing session.
func (s *Store) SetOfflineMode(ctx context.Context, offline bool) {
	s.mu.Lock()
	s.state.Offline = offline
	hasSession := s.state.DeliveryID != ""
	if offline {
		s.bumpLocked()
		s.state.ConnectionState = StateDisconnected
		s.state.ConnectionError = ""
	}
	s.persistLocked()
	s.mu.Unlock()

	s.log.Info("Offline mode changed", zap.Bool("offline", offline))

	if offline {
		if s.channel != nil {
			if err := s.channel.Close(); err != nil {
				s.log.Warn("Failed to close tracking channel", zap.Error(err))
			}
		}
		return
	}

	if hasSession {
		s.Reconnect(ctx)
	}
}

// ToggleOfflineMode flips offline mode.
func (s *Store) ToggleOfflineMode(ctx context.Context) {
	s.SetOfflineMode(ctx, !s.IsOffline())
}

// IsOffline reports whether offline mode is active.
func (s *Store) IsOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Offline
}

// GetMetrics recomputes the metrics from the current history.
func (s *Store) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recomputeLocked()
	return s.state.Clone().Metrics
}

// Snapshot returns a deep copy of the session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ConnectionState returns the current connection state and error message.
func (s *Store) ConnectionState() (ConnectionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ConnectionState, s.state.ConnectionError
}

// AppliedEvents counts inbound feed events applied to the state.
func (s *Store) AppliedEvents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Restore loads a persisted snapshot. The restored session is disconnected
// until StartTracking or Reconnect is called.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := snap.Clone()
	sort.SliceStable(restored.Positions, func(i, j int) bool {
		return restored.Positions[i].Timestamp.Before(restored.Positions[j].Timestamp)
	})
	if over := len(restored.Positions) - s.historyCap; over > 0 {
		restored.Positions = restored.Positions[over:]
	}
	restored.ConnectionState = StateDisconnected
	restored.ConnectionError = ""

	s.bumpLocked()
	s.state = restored
	s.recomputeLocked()

	s.log.Info("Tracking session restored",
		zap.String("delivery_id", restored.DeliveryID),
		zap.Int("positions", len(restored.Positions)),
		zap.Bool("offline", restored.Offline),
	)
}

// Reset stops tracking and wipes every field, including the session id and
// the persisted snapshot.
func (s *Store) Reset(ctx context.Context) {
	s.StopTracking(ctx)

	s.mu.Lock()
	s.bumpLocked()
	s.state = emptySnapshot()
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			s.log.Warn("Failed to clear tracking cache", zap.Error(err))
		}
	}
}

func (s *Store) connect(ctx context.Context, gen uint64, deliveryID string) bool {
	if s.credentials == nil {
		return s.fail(gen, appErrors.ErrMissingCredential)
	}
	if s.channel == nil {
		return s.fail(gen, appErrors.ErrNotConnected)
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.cancelConnect = cancel
	s.mu.Unlock()

	token, err := s.credentials.Token(ackCtx)
	if err != nil {
		return s.fail(gen, err)
	}
	if err := s.channel.Open(ackCtx, token, s); err != nil {
		return s.fail(gen, fmt.Errorf("open channel: %w", err))
	}
	if !s.isCurrent(gen) {
		s.abandon(ctx, deliveryID, false)
		return false
	}
	if err := s.channel.Subscribe(ackCtx, deliveryID); err != nil {
		if !s.isCurrent(gen) {
			s.abandon(ctx, deliveryID, true)
			return false
		}
		return s.fail(gen, fmt.Errorf("subscribe %s: %w", deliveryID, err))
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.log.Debug("Dropped stale subscription acknowledgement", zap.String("delivery_id", deliveryID))
		s.abandon(ctx, deliveryID, true)
		return false
	}
	s.cancelConnect = nil
	s.state.ConnectionState = StateConnected
	s.state.ConnectionError = ""
	s.touchLocked()
	s.persistLocked()
	s.mu.Unlock()

	s.log.Info("Tracking delivery", zap.String("delivery_id", deliveryID))
	return true
}

// abandon undoes an Open or Subscribe overtaken by a stop, reset, offline
// switch or new session. The subscription is dropped unless the current
// session is connecting to the same delivery; the channel is closed unless a
// session is connecting or connected.
func (s *Store) abandon(ctx context.Context, deliveryID string, subscribed bool) {
	s.mu.Lock()
	gen := s.generation
	active := s.state.DeliveryID != "" && !s.state.Offline &&
		(s.state.ConnectionState == StateConnecting || s.state.ConnectionState == StateConnected)
	sameSession := active && s.state.DeliveryID == deliveryID
	s.mu.Unlock()

	if subscribed && !sameSession {
		s.unsubscribe(ctx, deliveryID)
	}
	if active || !s.isCurrent(gen) {
		return
	}
	if err := s.channel.Close(); err != nil {
		s.log.Warn("Failed to close tracking channel", zap.Error(err))
	}
	s.log.Debug("Abandoned superseded connection attempt", zap.String("delivery_id", deliveryID))
}

// bumpLocked invalidates pending acknowledgements and cancels the in-flight
// connection attempt.
func (s *Store) bumpLocked() uint64 {
	s.generation++
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	return s.generation
}

func (s *Store) fail(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == s.generation {
		s.failLocked(err)
	}
	return false
}

func (s *Store) failLocked(err error) {
	s.state.ConnectionState = StateError
	s.state.ConnectionError = err.Error()
	s.log.Warn("Tracking connection failed",
		zap.String("delivery_id", s.state.DeliveryID),
		zap.Error(err),
	)
}

func (s *Store) unsubscribe(ctx context.Context, deliveryID string) {
	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	if err := s.channel.Unsubscribe(ackCtx, deliveryID); err != nil {
		s.log.Warn("Failed to unsubscribe",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
	}
}

func (s *Store) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// addPositionLocked inserts p keeping the history in timestamp order, then
// evicts the oldest entries beyond the cap.
func (s *Store) addPositionLocked(p Position) {
	h := s.state.Positions
	i := sort.Search(len(h), func(i int) bool {
		return h[i].Timestamp.After(p.Timestamp)
	})
	if i < len(h) {
		s.log.Debug("Out-of-order position inserted",
			zap.Time("timestamp", p.Timestamp),
			zap.Time("latest", h[len(h)-1].Timestamp),
		)
	}

	h = append(h, Position{})
	copy(h[i+1:], h[i:])
	h[i] = p

	if over := len(h) - s.historyCap; over > 0 {
		h = append([]Position(nil), h[over:]...)
	}
	s.state.Positions = h

	latest := h[len(h)-1]
	s.state.CurrentPosition = &latest
	if s.state.Delivery != nil {
		coord := latest.Coordinate()
		ts := latest.Timestamp
		s.state.Delivery.CurrentLocation = &coord
		s.state.Delivery.LastLocationUpdate = &ts
	}
}

func (s *Store) recomputeLocked() {
	s.state.Metrics = CalculateMetrics(s.state.Positions, s.state.LastEta, s.state.Delivery, s.now())
}

func (s *Store) touchLocked() {
	s.state.LastUpdateTime = s.now()
}

func (s *Store) persistLocked() {
	if s.persister == nil || s.state.DeliveryID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ackTimeout)
	defer cancel()

	if err := s.persister.Save(ctx, s.state.Clone()); err != nil {
		s.log.Warn("Failed to persist tracking snapshot", zap.Error(err))
	}
}
