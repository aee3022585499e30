package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-tracker/internal/tracking"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{"event", `{"type":"eta_update","delivery_id":"d-1","payload":{}}`, false},
		{"ack", `{"type":"ack","id":"c-1","ack":{"ok":true}}`, false},
		{"not json", `{"type":`, true},
		{"missing type", `{"delivery_id":"d-1"}`, true},
		{"ack without body", `{"type":"ack","id":"c-1"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeEvent_InitialState(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := `{
		"type": "delivery_initial_state",
		"delivery_id": "d-1",
		"payload": {
			"delivery": {"id": "d-1", "status": "PICKED_UP", "pickup_address": "1 Rue A", "delivery_address": "2 Rue B"},
			"last_position": {"latitude": 48.85, "longitude": 2.35, "timestamp": "2026-03-01T12:00:00Z"},
			"last_eta": {"eta": "2026-03-01T12:10:00Z", "distance": 2000},
			"checkpoints": [{"id": "cp-1", "type": "PICKUP", "location": {"type": "Point", "coordinates": [2.35, 48.85]}, "timestamp": "2026-03-01T11:50:00Z"}],
			"status_history": [{"status": "PICKED_UP", "previous_status": "AT_PICKUP", "timestamp": "2026-03-01T11:55:00Z"}]
		}
	}`

	env, err := DecodeEnvelope([]byte(frame))
	require.NoError(t, err)
	ev, err := DecodeEvent(env)
	require.NoError(t, err)

	state, ok := ev.(tracking.InitialState)
	require.True(t, ok)
	assert.Equal(t, "d-1", state.DeliveryID)
	assert.Equal(t, tracking.StatusPickedUp, state.Delivery.Status)
	require.NotNil(t, state.LastPosition)
	assert.Equal(t, ts, state.LastPosition.Timestamp)
	require.NotNil(t, state.LastEta)
	assert.Equal(t, 2000.0, state.LastEta.RemainingDistance)
	require.Len(t, state.Checkpoints, 1)
	assert.Equal(t, 48.85, state.Checkpoints[0].Location.Latitude)
	assert.Equal(t, 2.35, state.Checkpoints[0].Location.Longitude)
	require.Len(t, state.StatusHistory, 1)
	assert.Equal(t, tracking.StatusAtPickup, state.StatusHistory[0].PreviousStatus)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"unknown type", `{"type":"weather","delivery_id":"d-1","payload":{}}`},
		{"no delivery id", `{"type":"eta_update","payload":{"eta":"2026-03-01T12:10:00Z","distance":1}}`},
		{"no payload", `{"type":"eta_update","delivery_id":"d-1"}`},
		{"latitude out of range", `{"type":"position_update","delivery_id":"d-1","payload":{"latitude":91,"longitude":0,"timestamp":"2026-03-01T12:00:00Z"}}`},
		{"position without timestamp", `{"type":"position_update","delivery_id":"d-1","payload":{"latitude":1,"longitude":1}}`},
		{"checkpoint with bad point", `{"type":"checkpoint_reached","delivery_id":"d-1","payload":{"id":"cp","type":"X","location":{"type":"Point","coordinates":[1]}}}`},
		{"status without value", `{"type":"status_update","delivery_id":"d-1","payload":{"notes":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			require.NoError(t, err)
			_, err = DecodeEvent(env)
			assert.Error(t, err)
		})
	}
}

func TestGeoPoint(t *testing.T) {
	p := NewGeoPoint(tracking.Position{Latitude: 48.85, Longitude: 2.35}.Coordinate())

	assert.Equal(t, "Point", p.Type)
	assert.Equal(t, []float64{2.35, 48.85}, p.Coordinates)
	assert.Equal(t, 48.85, p.Coordinate().Latitude)
}
