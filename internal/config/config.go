package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"syncroom/internal/logging"
)

const (
	TransportHertz = "hertz"
	TransportEcho  = "echo"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Room      RoomConfig
	Log       logging.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	Transport       string
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RoomConfig struct {
	MaxParticipants int `mapstructure:"max_participants"`
	IDLength        int `mapstructure:"id_length"`
}

// envBindings maps config keys to the short variable names the server accepts
// besides the AutomaticEnv form (SERVER_PORT and so on).
var envBindings = map[string]string{
	"server.host":           "HOST",
	"server.port":           "PORT",
	"server.transport":      "TRANSPORT",
	"room.max_participants": "ROOM_MAX_PARTICIPANTS",
	"room.id_length":        "ROOM_ID_LENGTH",
	"log.level":             "LOG_LEVEL",
	"log.pretty":            "LOG_PRETTY",
}

// Load reads config.yaml from configPath (optional) and the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.transport", TransportHertz)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 32)
	v.SetDefault("room.max_participants", 10)
	v.SetDefault("room.id_length", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "syncroom")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s to %s: %w", env, key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	// Durations are decoded by viper's default string-to-duration hook.
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Transport {
	case TransportHertz, TransportEcho:
	default:
		return fmt.Errorf("unknown transport %q", c.Server.Transport)
	}
	if c.Room.MaxParticipants < 1 {
		return fmt.Errorf("room.max_participants must be positive, got %d", c.Room.MaxParticipants)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be shorter than pong_wait (%s)", c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	return nil
}
