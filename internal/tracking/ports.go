package tracking

import (
	"context"
	"time"
)

// EventHandler receives typed events from the tracking feed. One method per
// event type; an implementation is registered on a Channel exactly once.
type EventHandler interface {
	OnInitialState(ev InitialState)
	OnPositionUpdate(ev PositionUpdate)
	OnStatusUpdate(ev StatusUpdate)
	OnEtaUpdate(ev EtaUpdate)
	OnCheckpointReached(ev CheckpointReached)
	OnIssueReported(ev IssueReported)

	OnConnect()
	OnDisconnect()
	OnError(err error)
}

// Channel is the bidirectional link to the remote tracking service.
type Channel interface {
	// Open connects with credential and registers handler. Calling it again
	// while connected is a no-op.
	Open(ctx context.Context, credential string, handler EventHandler) error
	// Subscribe blocks until the service acknowledges the subscription.
	Subscribe(ctx context.Context, deliveryID string) error
	Unsubscribe(ctx context.Context, deliveryID string) error
	PushPosition(ctx context.Context, deliveryID string, position Position) error
	// Close unregisters the handler and drops the connection.
	Close() error
}

// IssueService is the remote report/resolve interface used while online.
type IssueService interface {
	ReportIssue(ctx context.Context, report IssueReport) (string, error)
	ResolveIssue(ctx context.Context, issueID, resolutionNotes string) error
}

// CredentialSource supplies the bearer credential for the tracking feed.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// Persister stores snapshots for offline use.
type Persister interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Clear(ctx context.Context) error
}

// InitialState is the full snapshot the service sends after a subscription.
type InitialState struct {
	DeliveryID    string
	Delivery      *DeliveryInfo
	LastPosition  *Position
	LastEta       *EtaEstimate
	Checkpoints   []Checkpoint
	StatusHistory []StatusTransition
}

type PositionUpdate struct {
	DeliveryID string
	Position   Position
}

type StatusUpdate struct {
	DeliveryID     string
	Status         DeliveryStatus
	PreviousStatus DeliveryStatus
	Notes          string
	Timestamp      time.Time
}

type EtaUpdate struct {
	DeliveryID string
	ETA        time.Time
	Distance   float64
	ReceivedAt time.Time
}

type CheckpointReached struct {
	DeliveryID string
	Checkpoint Checkpoint
}

type IssueReported struct {
	DeliveryID string
	Issue      Issue
}
