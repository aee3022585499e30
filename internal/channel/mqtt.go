package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	appErrors "delivery-tracker/pkg/errors"
	pkgmqtt "delivery-tracker/pkg/mqtt"
)

// MQTTConfig describes the broker connection and topic layout. The
// credential is presented as the MQTT password.
type MQTTConfig struct {
	ClientConfig pkgmqtt.Config
	TopicPrefix  string
	QoS          byte
	Logger       *zap.Logger
}

// CommandTopic is where this client publishes commands.
func (c MQTTConfig) CommandTopic() string {
	return fmt.Sprintf("%s/clients/%s/commands", c.TopicPrefix, c.ClientConfig.ClientID)
}

// InboxTopic is where the service delivers events and acks for this client.
func (c MQTTConfig) InboxTopic() string {
	return fmt.Sprintf("%s/clients/%s/inbox", c.TopicPrefix, c.ClientConfig.ClientID)
}

// MQTTTransport carries frames over an MQTT broker. paho reconnects on its
// own when AutoReconnect is set; losses are then reported as retrying.
type MQTTTransport struct {
	cfg MQTTConfig
	log *zap.Logger

	mu     sync.Mutex
	client *pkgmqtt.Client
}

func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTTransport{cfg: cfg, log: log}
}

func (t *MQTTTransport) Connect(ctx context.Context, credential string, cb Callbacks) error {
	clientCfg := t.cfg.ClientConfig
	clientCfg.Password = credential
	clientCfg.Logger = t.log
	clientCfg.OnConnectionLost = func(err error) {
		if cb.Lost != nil {
			cb.Lost(err, clientCfg.AutoReconnect)
		}
	}
	clientCfg.OnReconnected = func() {
		if cb.Restored != nil {
			cb.Restored()
		}
	}

	client := pkgmqtt.NewClient(&clientCfg)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	inbox := t.cfg.InboxTopic()
	err := client.Subscribe(ctx, inbox, t.cfg.QoS, func(_ string, payload []byte) {
		if cb.Receive != nil {
			cb.Receive(payload)
		}
	})
	if err != nil {
		client.Disconnect()
		return err
	}

	t.mu.Lock()
	previous := t.client
	t.client = client
	t.mu.Unlock()

	if previous != nil {
		previous.Disconnect()
	}

	t.log.Info("Listening for tracking frames", zap.String("topic", inbox))
	return nil
}

func (t *MQTTTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return appErrors.ErrNotConnected
	}
	return client.Publish(ctx, t.cfg.CommandTopic(), t.cfg.QoS, false, frame)
}

func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := client.Unsubscribe(ctx, t.cfg.InboxTopic()); err != nil {
		t.log.Warn("Failed to unsubscribe from inbox", zap.Error(err))
	}
	client.Disconnect()
	return nil
}
