package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appErrors "delivery-tracker/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	Logger           *zap.Logger
}

// WebSocketTransport carries frames as text messages over a single
// gorilla/websocket connection. It does not reconnect by itself.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	writeMu sync.Mutex
}

func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = writeWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWait
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &WebSocketTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: log,
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context, credential string, cb Callbacks) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("dial %s: %w", t.cfg.URL, appErrors.ErrCredentialExpired)
		}
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}

	pong := t.cfg.PongWait
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pong))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pong))
	})

	done := make(chan struct{})

	t.mu.Lock()
	previous, previousDone := t.conn, t.done
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	if previous != nil {
		close(previousDone)
		_ = previous.Close()
	}

	go t.readPump(conn, done, cb)
	go t.pingLoop(conn, done)

	t.log.Info("WebSocket connected", zap.String("url", t.cfg.URL))
	return nil
}

func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return appErrors.ErrNotConnected
	}

	deadline := time.Now().Add(t.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return conn.Close()
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn, done chan struct{}, cb Callbacks) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			t.mu.Lock()
			if t.conn == conn {
				close(done)
				t.conn = nil
				t.done = nil
			}
			t.mu.Unlock()
			_ = conn.Close()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			} else if errors.Is(err, websocket.ErrCloseSent) {
				return
			}
			if cb.Lost != nil {
				cb.Lost(err, false)
			}
			return
		}

		if cb.Receive != nil {
			cb.Receive(frame)
		}
	}
}

func (t *WebSocketTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	period := (t.cfg.PongWait * 9) / 10
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteWait))
			t.writeMu.Unlock()
			if err != nil {
				t.log.Debug("WebSocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
