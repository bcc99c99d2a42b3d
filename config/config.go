package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPath = "./config/config.yaml"

type HTTP struct {
	Addr string `yaml:"addr"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // session-recorder
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
	Stderr    bool   `yaml:"stderr"`    // stdout занят маркерами записи
}

type LiveKit struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
	Room      string `yaml:"room"`
	Identity  string `yaml:"identity"`
}

// UsesToken reports whether the connection is made with a pre-issued token.
func (l LiveKit) UsesToken() bool { return l.Token != "" }

type Postgres struct {
	DSN string `yaml:"dsn"` // пусто — журнал выключен
}

type MQTT struct {
	Broker   string `yaml:"broker"` // пусто — выключено
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
	QoS      byte   `yaml:"qos"`
}

type Recording struct {
	ConsoleMarkers *bool  `yaml:"consoleMarkers"`
	Policy         string `yaml:"policy"` // host-only|fallback
}

// Console reports whether START_RECORDING/END_RECORDING go to stdout.
func (r Recording) Console() bool { return r.ConsoleMarkers == nil || *r.ConsoleMarkers }

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	LiveKit   LiveKit   `yaml:"livekit"`
	Postgres  Postgres  `yaml:"postgres"`
	MQTT      MQTT      `yaml:"mqtt"`
	Recording Recording `yaml:"recording"`
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}

func LoadConfig() (*Config, error) {
	return Load(Path())
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LiveKit.URL == "" {
		return errors.New("livekit.url is required")
	}
	if !c.LiveKit.UsesToken() {
		if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
			return errors.New("livekit.token or livekit.apiKey with livekit.apiSecret is required")
		}
		if c.LiveKit.Room == "" {
			return errors.New("livekit.room is required without a token")
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required when mqtt.broker is set")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0..2, got %d", c.MQTT.QoS)
	}
	switch strings.ToLower(c.Recording.Policy) {
	case "", "host-only", "fallback":
	default:
		return fmt.Errorf("recording.policy %q is not host-only|fallback", c.Recording.Policy)
	}

	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.LiveKit.Identity == "" {
		c.LiveKit.Identity = "recorder-session"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.LiveKit.Identity
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "session-recorder"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}
