package tracking

import (
	"strings"
	"time"

	"delivery-tracker/internal/geo"
)

// ConnectionState is the lifecycle of the link to the remote tracking feed.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// DeliveryStatus mirrors the marketplace delivery progression.
type DeliveryStatus string

const (
	StatusPending          DeliveryStatus = "PENDING"
	StatusAssigned         DeliveryStatus = "ASSIGNED"
	StatusEnRouteToPickup  DeliveryStatus = "EN_ROUTE_TO_PICKUP"
	StatusAtPickup         DeliveryStatus = "AT_PICKUP"
	StatusPickedUp         DeliveryStatus = "PICKED_UP"
	StatusEnRouteToDropoff DeliveryStatus = "EN_ROUTE_TO_DROPOFF"
	StatusAtDropoff        DeliveryStatus = "AT_DROPOFF"
	StatusDelivered        DeliveryStatus = "DELIVERED"
	StatusProblem          DeliveryStatus = "PROBLEM"
	StatusCancelled        DeliveryStatus = "CANCELLED"
)

// LocalIssuePrefix marks issues authored while offline.
const LocalIssuePrefix = "local-"

// Agent is the courier assigned to a delivery.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// DeliveryInfo is the externally sourced description of the tracked delivery.
type DeliveryInfo struct {
	ID                 string          `json:"id"`
	Status             DeliveryStatus  `json:"status"`
	PickupAddress      string          `json:"pickup_address"`
	DeliveryAddress    string          `json:"delivery_address"`
	EstimatedArrival   *time.Time      `json:"estimated_arrival,omitempty"`
	CurrentLocation    *geo.Coordinate `json:"current_location,omitempty"`
	LastLocationUpdate *time.Time      `json:"last_location_update,omitempty"`
	Agent              *Agent          `json:"agent,omitempty"`
}

// Position is a single GPS fix. Speed is in km/h, heading in degrees and
// accuracy in meters.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// Coordinate returns the fix as a geo.Coordinate.
func (p Position) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// PositionInput is what the tracked agent reports; the store stamps the time.
type PositionInput struct {
	Latitude  float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// At turns the input into a Position recorded at ts.
func (in PositionInput) At(ts time.Time) Position {
	return Position{
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Timestamp: ts,
		Speed:     in.Speed,
		Heading:   in.Heading,
		Accuracy:  in.Accuracy,
	}
}

// EtaEstimate is one server-side arrival estimate.
type EtaEstimate struct {
	ETA               time.Time `json:"eta"`
	RemainingDistance float64   `json:"remaining_distance"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Checkpoint is a named waypoint event such as "left warehouse".
type Checkpoint struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Location  geo.Coordinate `json:"location"`
	Timestamp time.Time      `json:"timestamp"`
	Notes     string         `json:"notes,omitempty"`
}

// StatusTransition records one delivery status change.
type StatusTransition struct {
	Status         DeliveryStatus `json:"status"`
	PreviousStatus DeliveryStatus `json:"previous_status,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Notes          string         `json:"notes,omitempty"`
}

// Issue is a problem reported during the delivery.
type Issue struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	Description     string    `json:"description"`
	Timestamp       time.Time `json:"timestamp"`
	Resolved        bool      `json:"resolved"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
}

// IsLocal reports whether the issue was authored offline and never confirmed.
func (i Issue) IsLocal() bool {
	return strings.HasPrefix(i.ID, LocalIssuePrefix)
}

// IssueReport is the payload of a report command.
type IssueReport struct {
	DeliveryID  string `json:"delivery_id" validate:"required"`
	Type        string `json:"type" validate:"required,max=64"`
	Severity    string `json:"severity" validate:"required,max=32"`
	Description string `json:"description" validate:"required,max=2000"`
}

// Metrics are derived travel figures, recomputed on every read.
type Metrics struct {
	DistanceTraveled     float64        `json:"distance_traveled"`
	RemainingDistance    float64        `json:"remaining_distance"`
	RemainingTime        time.Duration  `json:"remaining_time"`
	AverageSpeed         float64        `json:"average_speed"`
	ETA                  *time.Time     `json:"eta,omitempty"`
	CompletionPercentage int            `json:"completion_percentage"`
	Proximity            ProximityLevel `json:"proximity"`
}

// Snapshot is the full state of one tracking session.
type Snapshot struct {
	DeliveryID      string             `json:"delivery_id"`
	Delivery        *DeliveryInfo      `json:"delivery,omitempty"`
	Positions       []Position         `json:"positions"`
	CurrentPosition *Position          `json:"current_position,omitempty"`
	EtaHistory      []EtaEstimate      `json:"eta_history"`
	LastEta         *EtaEstimate       `json:"last_eta,omitempty"`
	Checkpoints     []Checkpoint       `json:"checkpoints"`
	StatusHistory   []StatusTransition `json:"status_history"`
	Issues          []Issue            `json:"issues"`
	Metrics         Metrics            `json:"metrics"`
	ConnectionState ConnectionState    `json:"connection_state"`
	ConnectionError string             `json:"connection_error,omitempty"`
	LastUpdateTime  time.Time          `json:"last_update_time"`
	Offline         bool               `json:"offline"`
}

// Clone returns a deep copy safe to hand out of the store.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Delivery != nil {
		d := *s.Delivery
		if d.EstimatedArrival != nil {
			v := *d.EstimatedArrival
			d.EstimatedArrival = &v
		}
		if d.CurrentLocation != nil {
			v := *d.CurrentLocation
			d.CurrentLocation = &v
		}
		if d.LastLocationUpdate != nil {
			v := *d.LastLocationUpdate
			d.LastLocationUpdate = &v
		}
		if d.Agent != nil {
			v := *d.Agent
			d.Agent = &v
		}
		out.Delivery = &d
	}
	if s.CurrentPosition != nil {
		p := *s.CurrentPosition
		out.CurrentPosition = &p
	}
	if s.LastEta != nil {
		e := *s.LastEta
		out.LastEta = &e
	}
	if s.Metrics.ETA != nil {
		v := *s.Metrics.ETA
		out.Metrics.ETA = &v
	}
	out.Positions = cloneSlice(s.Positions)
	out.EtaHistory = cloneSlice(s.EtaHistory)
	out.Checkpoints = cloneSlice(s.Checkpoints)
	out.StatusHistory = cloneSlice(s.StatusHistory)
	out.Issues = cloneSlice(s.Issues)
	return out
}

// cloneSlice copies items into a non-nil slice so empty histories encode as [].
func cloneSlice[T any](items []T) []T {
	return append(make([]T, 0, len(items)), items...)
}
