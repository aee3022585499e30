package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"delivery-tracker/internal/geo"
	"delivery-tracker/internal/tracking"
	"delivery-tracker/internal/validator"
)

// Event types pushed by the tracking service.
const (
	EventInitialState      = "delivery_initial_state"
	EventPositionUpdate    = "position_update"
	EventStatusUpdate      = "status_update"
	EventEtaUpdate         = "eta_update"
	EventCheckpointReached = "checkpoint_reached"
	EventIssueReported     = "issue_reported"
)

// Command types sent to the tracking service. All but untrack are answered
// with an ack envelope carrying the same id.
const (
	CommandTrack          = "track_delivery"
	CommandUntrack        = "untrack_delivery"
	CommandUpdatePosition = "update_position"
	CommandReportIssue    = "report_issue"
	CommandResolveIssue   = "resolve_issue"

	TypeAck = "ack"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type       string          `json:"type" validate:"required"`
	ID         string          `json:"id,omitempty"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Ack        *Ack            `json:"ack,omitempty"`
}

// Ack answers a command.
type Ack struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GeoPoint is a GeoJSON point; coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
}

func (p GeoPoint) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: p.Coordinates[1], Longitude: p.Coordinates[0]}
}

func NewGeoPoint(c geo.Coordinate) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{c.Longitude, c.Latitude}}
}

type PositionPayload struct {
	Latitude  float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

func (p PositionPayload) toPosition() tracking.Position {
	return tracking.Position{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Accuracy:  p.Accuracy,
	}
}

func newPositionPayload(p tracking.Position) PositionPayload {
	return PositionPayload{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Accuracy:  p.Accuracy,
	}
}

type EtaPayload struct {
	ETA      time.Time `json:"eta" validate:"required"`
	Distance float64   `json:"distance"`
}

type StatusPayload struct {
	Status         tracking.DeliveryStatus `json:"status" validate:"required"`
	PreviousStatus tracking.DeliveryStatus `json:"previous_status,omitempty"`
	Notes          string                  `json:"notes,omitempty"`
	Timestamp      time.Time               `json:"timestamp"`
}

type CheckpointPayload struct {
	ID        string    `json:"id" validate:"required"`
	Type      string    `json:"type" validate:"required"`
	Location  GeoPoint  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

func (p CheckpointPayload) toCheckpoint() tracking.Checkpoint {
	return tracking.Checkpoint{
		ID:        p.ID,
		Type:      p.Type,
		Location:  p.Location.Coordinate(),
		Timestamp: p.Timestamp,
		Notes:     p.Notes,
	}
}

type IssuePayload struct {
	ID              string    `json:"id" validate:"required"`
	Type            string    `json:"type" validate:"required"`
	Severity        string    `json:"severity"`
	Description     string    `json:"description"`
	Timestamp       time.Time `json:"timestamp"`
	Resolved        bool      `json:"resolved"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
}

type InitialStatePayload struct {
	Delivery      *tracking.DeliveryInfo `json:"delivery"`
	LastPosition  *PositionPayload       `json:"last_position,omitempty"`
	LastEta       *EtaPayload            `json:"last_eta,omitempty"`
	Checkpoints   []CheckpointPayload    `json:"checkpoints" validate:"dive"`
	StatusHistory []StatusPayload        `json:"status_history" validate:"dive"`
}

type reportIssuePayload struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type resolveIssuePayload struct {
	IssueID         string `json:"issue_id"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

type reportIssueAck struct {
	IssueID string `json:"issue_id"`
}

// DecodeEnvelope parses and validates a raw frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := validator.ValidateStruct(env); err != nil {
		return Envelope{}, err
	}
	if env.Type == TypeAck && (env.ID == "" || env.Ack == nil) {
		return Envelope{}, fmt.Errorf("ack envelope without id or body")
	}
	return env, nil
}

func encodeEnvelope(typ, id, deliveryID string, payload any) ([]byte, error) {
	env := Envelope{Type: typ, ID: id, DeliveryID: deliveryID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func decodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	if err := validator.ValidateStruct(dst); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}

// DecodeEvent turns an event envelope into the matching tracking event value.
func DecodeEvent(env Envelope) (any, error) {
	if env.DeliveryID == "" {
		return nil, fmt.Errorf("%s: missing delivery id", env.Type)
	}

	switch env.Type {
	case EventInitialState:
		var p InitialStatePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		ev := tracking.InitialState{
			DeliveryID:    env.DeliveryID,
			Delivery:      p.Delivery,
			Checkpoints:   make([]tracking.Checkpoint, 0, len(p.Checkpoints)),
			StatusHistory: make([]tracking.StatusTransition, 0, len(p.StatusHistory)),
		}
		if p.LastPosition != nil {
			pos := p.LastPosition.toPosition()
			ev.LastPosition = &pos
		}
		if p.LastEta != nil {
			ev.LastEta = &tracking.EtaEstimate{ETA: p.LastEta.ETA, RemainingDistance: p.LastEta.Distance}
		}
		for _, cp := range p.Checkpoints {
			ev.Checkpoints = append(ev.Checkpoints, cp.toCheckpoint())
		}
		for _, st := range p.StatusHistory {
			ev.StatusHistory = append(ev.StatusHistory, tracking.StatusTransition{
				Status:         st.Status,
				PreviousStatus: st.PreviousStatus,
				Timestamp:      st.Timestamp,
				Notes:          st.Notes,
			})
		}
		return ev, nil

	case EventPositionUpdate:
		var p PositionPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return tracking.PositionUpdate{DeliveryID: env.DeliveryID, Position: p.toPosition()}, nil

	case EventStatusUpdate:
		var p StatusPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return tracking.StatusUpdate{
			DeliveryID:     env.DeliveryID,
			Status:         p.Status,
			PreviousStatus: p.PreviousStatus,
			Notes:          p.Notes,
			Timestamp:      p.Timestamp,
		}, nil

	case EventEtaUpdate:
		var p EtaPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return tracking.EtaUpdate{DeliveryID: env.DeliveryID, ETA: p.ETA, Distance: p.Distance}, nil

	case EventCheckpointReached:
		var p CheckpointPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return tracking.CheckpointReached{DeliveryID: env.DeliveryID, Checkpoint: p.toCheckpoint()}, nil

	case EventIssueReported:
		var p IssuePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return tracking.IssueReported{
			DeliveryID: env.DeliveryID,
			Issue: tracking.Issue{
				ID:              p.ID,
				Type:            p.Type,
				Severity:        p.Severity,
				Description:     p.Description,
				Timestamp:       p.Timestamp,
				Resolved:        p.Resolved,
				ResolutionNotes: p.ResolutionNotes,
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", env.Type)
}
