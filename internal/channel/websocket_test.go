package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "delivery-tracker/pkg/errors"
)

// trackingServer acks every command and answers track_delivery with one
// position update. closeAfterTrack makes it close the socket cleanly after that.
func trackingServer(t *testing.T, closeAfterTrack bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				return
			}
			if env.Type == CommandUntrack {
				continue
			}

			ack, _ := json.Marshal(Envelope{Type: TypeAck, ID: env.ID, Ack: &Ack{OK: true}})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}

			if env.Type != CommandTrack {
				continue
			}
			event, _ := encodeEnvelope(EventPositionUpdate, "", env.DeliveryID, PositionPayload{
				Latitude: 48.85, Longitude: 2.35, Timestamp: t0,
			})
			if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}
			if closeAfterTrack {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	srv := trackingServer(t, false)
	adapter := NewAdapter(NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)}), Options{PositionInterval: -1})
	handler := &recordingHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, adapter.Open(ctx, "token-1", handler))
	require.NoError(t, adapter.Subscribe(ctx, "d-1"))

	require.Eventually(t, func() bool { return handler.positionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "d-1", handler.lastPosition().DeliveryID)
	assert.Equal(t, 48.85, handler.lastPosition().Position.Latitude)

	require.NoError(t, adapter.Unsubscribe(ctx, "d-1"))
	require.NoError(t, adapter.Close())
	assert.Zero(t, adapter.ListenerCount())
	assert.Zero(t, handler.disconnectCount())
	assert.Empty(t, handler.errors())
}

func TestWebSocketTransport_Unauthorized(t *testing.T) {
	srv := trackingServer(t, false)
	transport := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)})

	err := transport.Connect(context.Background(), "wrong", Callbacks{})
	assert.ErrorIs(t, err, appErrors.ErrCredentialExpired)
	assert.ErrorIs(t, transport.Send(context.Background(), []byte(`{}`)), appErrors.ErrNotConnected)
}

func TestWebSocketTransport_RemoteClose(t *testing.T) {
	srv := trackingServer(t, true)
	adapter := NewAdapter(NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)}), Options{PositionInterval: -1})
	handler := &recordingHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, adapter.Open(ctx, "token-1", handler))
	require.NoError(t, adapter.Subscribe(ctx, "d-1"))

	require.Eventually(t, func() bool { return handler.disconnectCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, adapter.ListenerCount())
	assert.ErrorIs(t, adapter.Subscribe(ctx, "d-1"), appErrors.ErrNotConnected)
}
