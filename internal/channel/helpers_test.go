package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"delivery-tracker/internal/tracking"
)

// fakeTransport answers commands through respond, synchronously from Send.
type fakeTransport struct {
	mu         sync.Mutex
	cb         Callbacks
	connects   int
	closes     int
	credential string
	sent       []Envelope
	connectErr error
	respond    func(env Envelope) *Ack
}

func ackOK() func(Envelope) *Ack {
	return func(Envelope) *Ack { return &Ack{OK: true} }
}

func (f *fakeTransport) Connect(_ context.Context, credential string, cb Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	f.credential = credential
	f.cb = cb
	return nil
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, env)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil || env.Type == CommandUntrack {
		return nil
	}
	if ack := respond(env); ack != nil {
		out, _ := json.Marshal(Envelope{Type: TypeAck, ID: env.ID, Ack: ack})
		f.callbacks().Receive(out)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) callbacks() Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeTransport) lastSent() Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) push(t *testing.T, typ, deliveryID string, payload any) {
	t.Helper()
	frame, err := encodeEnvelope(typ, "", deliveryID, payload)
	require.NoError(t, err)
	f.callbacks().Receive(frame)
}

type recordingHandler struct {
	mu          sync.Mutex
	initial     []tracking.InitialState
	positions   []tracking.PositionUpdate
	statuses    []tracking.StatusUpdate
	etas        []tracking.EtaUpdate
	checkpoints []tracking.CheckpointReached
	issues      []tracking.IssueReported
	connects    int
	disconnects int
	errs        []error
}

func (h *recordingHandler) OnInitialState(ev tracking.InitialState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initial = append(h.initial, ev)
}

func (h *recordingHandler) OnPositionUpdate(ev tracking.PositionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, ev)
}

func (h *recordingHandler) OnStatusUpdate(ev tracking.StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, ev)
}

func (h *recordingHandler) OnEtaUpdate(ev tracking.EtaUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.etas = append(h.etas, ev)
}

func (h *recordingHandler) OnCheckpointReached(ev tracking.CheckpointReached) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkpoints = append(h.checkpoints, ev)
}

func (h *recordingHandler) OnIssueReported(ev tracking.IssueReported) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issues = append(h.issues, ev)
}

func (h *recordingHandler) OnConnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
}

func (h *recordingHandler) OnDisconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) positionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.positions)
}

func (h *recordingHandler) lastPosition() tracking.PositionUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positions[len(h.positions)-1]
}

func (h *recordingHandler) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func (h *recordingHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

func (h *recordingHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}
