package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type Config struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	CleanSession         bool
	KeepAlive            int
	ConnectTimeout       int
	AutoReconnect        bool
	MaxReconnectInterval time.Duration

	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)
	// OnReconnected runs after an automatic reconnect once the recorded
	// subscriptions have been restored.
	OnReconnected func()

	Logger *zap.Logger
}

type Client struct {
	client mqtt.Client
	config *Config
	log    *zap.Logger

	mu            sync.Mutex
	connectedOnce bool
	subscriptions map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

type MessageHandler func(topic string, payload []byte)

func NewClient(config *Config) *Client {
	c := &Client{
		config:        config,
		log:           config.Logger,
		subscriptions: make(map[string]subscription),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(config.CleanSession)
	opts.SetKeepAlive(time.Duration(config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	opts.SetAutoReconnect(config.AutoReconnect)
	opts.SetMaxReconnectInterval(config.MaxReconnectInterval)

	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.log.Warn("MQTT connection lost", zap.Error(err))
		if config.OnConnectionLost != nil {
			config.OnConnectionLost(err)
		}
	})

	opts.SetReconnectingHandler(func(c2 mqtt.Client, opts *mqtt.ClientOptions) {
		c.log.Info("Reconnecting to MQTT broker", zap.String("broker", config.Broker))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// onConnect restores subscriptions after an automatic reconnect. The first
// connect is handled by Connect itself.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	reconnect := c.connectedOnce
	c.connectedOnce = true
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.mu.Unlock()

	if !reconnect {
		c.log.Info("MQTT client connected", zap.String("broker", c.config.Broker))
		return
	}

	for topic, sub := range subs {
		if err := c.subscribe(context.Background(), topic, sub); err != nil {
			c.log.Error("Failed to restore MQTT subscription", zap.String("topic", topic), zap.Error(err))
		}
	}

	c.log.Info("MQTT client reconnected", zap.Int("subscriptions", len(subs)))
	if c.config.OnReconnected != nil {
		c.config.OnReconnected()
	}
}

// Connect establishes a connection to the MQTT broker
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info("Connecting to MQTT broker", zap.String("broker", c.config.Broker))

	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return nil
}

// Subscribe subscribes to a topic with handler. The subscription is restored
// after every automatic reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	sub := subscription{qos: qos, handler: handler}
	if err := c.subscribe(ctx, topic, sub); err != nil {
		return err
	}

	c.mu.Lock()
	c.subscriptions[topic] = sub
	c.mu.Unlock()

	c.log.Debug("Subscribed to topic", zap.String("topic", topic), zap.Uint8("qos", qos))
	return nil
}

func (c *Client) subscribe(ctx context.Context, topic string, sub subscription) error {
	token := c.client.Subscribe(topic, sub.qos, func(client mqtt.Client, msg mqtt.Message) {
		sub.handler(msg.Topic(), msg.Payload())
	})

	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// Publish publishes a message to a topic
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	return wait(ctx, c.client.Publish(topic, qos, retained, payload))
}

// Unsubscribe unsubscribes from a topic
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	c.mu.Unlock()

	return wait(ctx, c.client.Unsubscribe(topics...))
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() {
	c.log.Info("Disconnecting from MQTT broker")
	c.client.Disconnect(250)

	c.mu.Lock()
	c.connectedOnce = false
	c.subscriptions = make(map[string]subscription)
	c.mu.Unlock()
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
