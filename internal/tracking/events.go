package tracking

import (
	"go.uber.org/zap"
)

// Store implements EventHandler; it is registered on the Channel by connect.
var _ EventHandler = (*Store)(nil)

// acceptsLocked reports whether an event for deliveryID belongs to the
// current online session. A stopped session takes no feed events.
func (s *Store) acceptsLocked(deliveryID string) bool {
	if s.state.DeliveryID == "" || s.state.Offline || s.state.ConnectionState == StateDisconnected {
		return false
	}
	if deliveryID != s.state.DeliveryID {
		s.log.Debug("Dropped event for another delivery",
			zap.String("event_delivery_id", deliveryID),
			zap.String("delivery_id", s.state.DeliveryID),
		)
		return false
	}
	return true
}

func (s *Store) OnInitialState(ev InitialState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	if ev.Delivery != nil {
		delivery := *ev.Delivery
		s.state.Delivery = &delivery
	}

	if ev.LastPosition != nil && !s.hasPositionLocked(*ev.LastPosition) {
		s.addPositionLocked(*ev.LastPosition)
	} else if s.state.CurrentPosition != nil && s.state.Delivery != nil {
		coord := s.state.CurrentPosition.Coordinate()
		ts := s.state.CurrentPosition.Timestamp
		s.state.Delivery.CurrentLocation = &coord
		s.state.Delivery.LastLocationUpdate = &ts
	}

	if ev.LastEta != nil {
		estimate := *ev.LastEta
		if estimate.ReceivedAt.IsZero() {
			estimate.ReceivedAt = s.now()
		}
		if s.state.LastEta == nil || s.state.LastEta.ETA != estimate.ETA ||
			s.state.LastEta.RemainingDistance != estimate.RemainingDistance {
			s.appendEtaLocked(estimate)
		}
	}

	// The service is authoritative for checkpoints and status history. Issues
	// are not part of the snapshot, so local offline issues survive.
	s.state.Checkpoints = append([]Checkpoint{}, ev.Checkpoints...)
	s.state.StatusHistory = append([]StatusTransition{}, ev.StatusHistory...)

	s.applied++
	s.touchLocked()
	s.recomputeLocked()
	s.persistLocked()
}

func (s *Store) OnPositionUpdate(ev PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	s.addPositionLocked(ev.Position)
	s.applied++
	s.touchLocked()
	s.recomputeLocked()
	s.persistLocked()
}

func (s *Store) OnStatusUpdate(ev StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	previous := ev.PreviousStatus
	if s.state.Delivery != nil {
		current := s.state.Delivery.Status
		if previous == "" {
			previous = current
		}
		if current != "" {
			if err := ValidateStatusTransition(current, ev.Status); err != nil {
				s.log.Warn("Unexpected delivery status transition",
					zap.String("delivery_id", ev.DeliveryID),
					zap.Error(err),
				)
			}
		}
		s.state.Delivery.Status = ev.Status
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	s.state.StatusHistory = append(s.state.StatusHistory, StatusTransition{
		Status:         ev.Status,
		PreviousStatus: previous,
		Timestamp:      ts,
		Notes:          ev.Notes,
	})

	s.applied++
	s.touchLocked()
	s.persistLocked()
}

func (s *Store) OnEtaUpdate(ev EtaUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	received := ev.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}
	s.appendEtaLocked(EtaEstimate{
		ETA:               ev.ETA,
		RemainingDistance: ev.Distance,
		ReceivedAt:        received,
	})

	s.applied++
	s.touchLocked()
	s.recomputeLocked()
	s.persistLocked()
}

func (s *Store) OnCheckpointReached(ev CheckpointReached) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	checkpoint := ev.Checkpoint
	if checkpoint.Timestamp.IsZero() {
		checkpoint.Timestamp = s.now()
	}
	s.state.Checkpoints = append(s.state.Checkpoints, checkpoint)

	s.applied++
	s.touchLocked()
	s.persistLocked()
}

func (s *Store) OnIssueReported(ev IssueReported) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptsLocked(ev.DeliveryID) {
		return
	}

	issue := ev.Issue
	if issue.Timestamp.IsZero() {
		issue.Timestamp = s.now()
	}
	s.mergeIssueLocked(issue)

	s.applied++
	s.touchLocked()
	s.persistLocked()
}

func (s *Store) OnConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.DeliveryID == "" || s.state.Offline {
		return
	}
	if s.state.ConnectionState != StateConnecting && s.state.ConnectionState != StateError {
		return
	}
	s.state.ConnectionState = StateConnected
	s.state.ConnectionError = ""
	s.touchLocked()
}

func (s *Store) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.DeliveryID == "" {
		return
	}
	s.state.ConnectionState = StateDisconnected
	s.log.Info("Tracking channel disconnected", zap.String("delivery_id", s.state.DeliveryID))
}

func (s *Store) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.DeliveryID == "" || s.state.Offline || err == nil {
		return
	}
	if s.state.ConnectionState == StateDisconnected {
		return
	}
	s.failLocked(err)
}

func (s *Store) hasPositionLocked(p Position) bool {
	for i := len(s.state.Positions) - 1; i >= 0; i-- {
		existing := s.state.Positions[i]
		if existing.Timestamp.Equal(p.Timestamp) &&
			existing.Latitude == p.Latitude && existing.Longitude == p.Longitude {
			return true
		}
		if existing.Timestamp.Before(p.Timestamp) {
			return false
		}
	}
	return false
}

func (s *Store) appendEtaLocked(estimate EtaEstimate) {
	s.state.EtaHistory = append(s.state.EtaHistory, estimate)
	if over := len(s.state.EtaHistory) - s.historyCap; over > 0 {
		s.state.EtaHistory = append([]EtaEstimate(nil), s.state.EtaHistory[over:]...)
	}
	latest := estimate
	s.state.LastEta = &latest

	if s.state.Delivery != nil {
		eta := estimate.ETA
		s.state.Delivery.EstimatedArrival = &eta
	}
}
