package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Tracking   TrackingConfig
	Transport  TransportConfig
	Cache      CacheConfig
	Database   DatabaseConfig
	Credential CredentialConfig
	Issues     IssuesConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

type TrackingConfig struct {
	DeliveryID       string // tracked on startup when set
	HistoryCap       int
	AckTimeout       time.Duration
	PositionInterval time.Duration
	IssueMatchWindow time.Duration
	StartOffline     bool
}

type TransportConfig struct {
	Kind      string // websocket | mqtt
	WebSocket WebSocketConfig
	MQTT      MQTTConfig
}

type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PongWait         time.Duration
}

type MQTTConfig struct {
	Broker               string
	ClientID             string
	Username             string
	TopicPrefix          string
	QoS                  int
	KeepAlive            int
	ConnectTimeout       int
	AutoReconnect        bool
	MaxReconnectInterval time.Duration
}

type CacheConfig struct {
	Backend       string // sqlite | postgres | memory
	Path          string
	Key           string
	TTL           time.Duration
	WriteInterval time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type CredentialConfig struct {
	Token  string
	File   string
	Leeway time.Duration
}

type IssuesConfig struct {
	Mode    string // channel | http
	BaseURL string
	Timeout time.Duration
}

type RateLimitConfig struct {
	GeneralRPS   float64 // Requests per second for general endpoints
	GeneralBurst int     // Burst size for general endpoints
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetDefault("TRACKING_HISTORY_CAP", 1000)
	v.SetDefault("TRACKING_ACK_TIMEOUT", 10*time.Second)
	v.SetDefault("TRACKING_POSITION_INTERVAL", time.Second)
	v.SetDefault("TRACKING_ISSUE_MATCH_WINDOW", 10*time.Minute)

	v.SetDefault("TRANSPORT_KIND", "websocket")
	v.SetDefault("WS_URL", "ws://localhost:3001/tracking")
	v.SetDefault("WS_HANDSHAKE_TIMEOUT", 10*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "delivery-tracker")
	v.SetDefault("MQTT_TOPIC_PREFIX", "tracking")
	v.SetDefault("MQTT_QOS", 1)
	v.SetDefault("MQTT_KEEP_ALIVE", 60)
	v.SetDefault("MQTT_CONNECT_TIMEOUT", 30)
	v.SetDefault("MQTT_AUTO_RECONNECT", true)
	v.SetDefault("MQTT_MAX_RECONNECT_INTERVAL", time.Minute)

	v.SetDefault("CACHE_BACKEND", "sqlite")
	v.SetDefault("CACHE_PATH", "data/tracking.db")
	v.SetDefault("CACHE_KEY", "delivery-tracking")
	v.SetDefault("CACHE_TTL", 60*time.Minute)
	v.SetDefault("CACHE_WRITE_INTERVAL", 2*time.Second)

	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("AUTH_TOKEN_LEEWAY", 30*time.Second)

	v.SetDefault("ISSUES_MODE", "channel")
	v.SetDefault("ISSUES_TIMEOUT", 10*time.Second)

	v.SetDefault("RATE_LIMIT_GENERAL_RPS", 20)
	v.SetDefault("RATE_LIMIT_GENERAL_BURST", 40)

	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("CORS_EXPOSED_HEADERS", []string{"X-Request-ID"})
	v.SetDefault("CORS_MAX_AGE", 43200)
}

// Load reads path (a dotenv file) when it exists and overlays the process
// environment. An empty path means ".env".
func Load(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:        v.GetString("SERVER_PORT"),
			Host:        v.GetString("SERVER_HOST"),
			Environment: v.GetString("ENVIRONMENT"),
		},
		Tracking: TrackingConfig{
			DeliveryID:       v.GetString("TRACKING_DELIVERY_ID"),
			HistoryCap:       v.GetInt("TRACKING_HISTORY_CAP"),
			AckTimeout:       v.GetDuration("TRACKING_ACK_TIMEOUT"),
			PositionInterval: v.GetDuration("TRACKING_POSITION_INTERVAL"),
			IssueMatchWindow: v.GetDuration("TRACKING_ISSUE_MATCH_WINDOW"),
			StartOffline:     v.GetBool("TRACKING_START_OFFLINE"),
		},
		Transport: TransportConfig{
			Kind: strings.ToLower(v.GetString("TRANSPORT_KIND")),
			WebSocket: WebSocketConfig{
				URL:              v.GetString("WS_URL"),
				HandshakeTimeout: v.GetDuration("WS_HANDSHAKE_TIMEOUT"),
				PongWait:         v.GetDuration("WS_PONG_WAIT"),
			},
			MQTT: MQTTConfig{
				Broker:               v.GetString("MQTT_BROKER"),
				ClientID:             v.GetString("MQTT_CLIENT_ID"),
				Username:             v.GetString("MQTT_USERNAME"),
				TopicPrefix:          v.GetString("MQTT_TOPIC_PREFIX"),
				QoS:                  v.GetInt("MQTT_QOS"),
				KeepAlive:            v.GetInt("MQTT_KEEP_ALIVE"),
				ConnectTimeout:       v.GetInt("MQTT_CONNECT_TIMEOUT"),
				AutoReconnect:        v.GetBool("MQTT_AUTO_RECONNECT"),
				MaxReconnectInterval: v.GetDuration("MQTT_MAX_RECONNECT_INTERVAL"),
			},
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("CACHE_BACKEND")),
			Path:          v.GetString("CACHE_PATH"),
			Key:           v.GetString("CACHE_KEY"),
			TTL:           v.GetDuration("CACHE_TTL"),
			WriteInterval: v.GetDuration("CACHE_WRITE_INTERVAL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Credential: CredentialConfig{
			Token:  v.GetString("AUTH_TOKEN"),
			File:   v.GetString("AUTH_TOKEN_FILE"),
			Leeway: v.GetDuration("AUTH_TOKEN_LEEWAY"),
		},
		Issues: IssuesConfig{
			Mode:    strings.ToLower(v.GetString("ISSUES_MODE")),
			BaseURL: v.GetString("ISSUES_BASE_URL"),
			Timeout: v.GetDuration("ISSUES_TIMEOUT"),
		},
		RateLimit: RateLimitConfig{
			GeneralRPS:   v.GetFloat64("RATE_LIMIT_GENERAL_RPS"),
			GeneralBurst: v.GetInt("RATE_LIMIT_GENERAL_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   v.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   v.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   v.GetStringSlice("CORS_ALLOWED_HEADERS"),
			ExposedHeaders:   v.GetStringSlice("CORS_EXPOSED_HEADERS"),
			AllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
			MaxAge:           v.GetInt("CORS_MAX_AGE"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the enumerated settings and the settings they require.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "websocket":
		if c.Transport.WebSocket.URL == "" {
			return errors.New("WS_URL is required for the websocket transport")
		}
	case "mqtt":
		if c.Transport.MQTT.Broker == "" || c.Transport.MQTT.ClientID == "" {
			return errors.New("MQTT_BROKER and MQTT_CLIENT_ID are required for the mqtt transport")
		}
		if c.Transport.MQTT.QoS < 0 || c.Transport.MQTT.QoS > 2 {
			return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.Transport.MQTT.QoS)
		}
	default:
		return fmt.Errorf("unknown TRANSPORT_KIND %q", c.Transport.Kind)
	}

	switch c.Cache.Backend {
	case "sqlite":
		if c.Cache.Path == "" {
			return errors.New("CACHE_PATH is required for the sqlite cache")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return errors.New("DB_HOST and DB_NAME are required for the postgres cache")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	switch c.Issues.Mode {
	case "channel":
	case "http":
		if c.Issues.BaseURL == "" {
			return errors.New("ISSUES_BASE_URL is required when ISSUES_MODE=http")
		}
	default:
		return fmt.Errorf("unknown ISSUES_MODE %q", c.Issues.Mode)
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return errors.New("CORS_ALLOWED_ORIGINS cannot contain * when CORS_ALLOW_CREDENTIALS is set")
			}
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
