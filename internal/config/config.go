package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/beaconbridge/internal/ble/crypto"
	"github.com/chaz8081/beaconbridge/internal/decode"
)

// Environment variables that override the file.
const (
	EnvLogLevel   = "BEACONBRIDGE_LOG_LEVEL"
	EnvMQTTBroker = "BEACONBRIDGE_MQTT_BROKER"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Scan      ScanConfig      `yaml:"scan"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Publisher PublisherConfig `yaml:"publisher"`
	GATT      GATTConfig      `yaml:"gatt"`
}

// ScanConfig holds advertisement scanning settings.
type ScanConfig struct {
	Backend     string        `yaml:"backend"` // "bluez" or "hci"
	Adapter     string        `yaml:"adapter"`
	Window      time.Duration `yaml:"window"`
	Pause       time.Duration `yaml:"pause"`
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// DeviceConfig describes one known sensor.
type DeviceConfig struct {
	MAC         string `yaml:"mac"`
	Name        string `yaml:"name"`
	Token       string `yaml:"token"`        // 32 hex chars, MiBeacon bind key
	Profile     string `yaml:"profile"`      // lywsd03mmc, mjwsd05mmc or generic
	BatteryUnit string `yaml:"battery_unit"` // optional: millivolts or raw
	GATT        bool   `yaml:"gatt"`
}

// PublisherConfig selects and configures the reading sink.
type PublisherConfig struct {
	Kind   string       `yaml:"kind"` // "mqtt", "pubsub" or "log"
	MQTT   MQTTConfig   `yaml:"mqtt"`
	PubSub PubSubConfig `yaml:"pubsub"`
}

// MQTTConfig holds MQTT broker settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
	Ordering  bool   `yaml:"ordering"`
}

// GATTConfig holds connection settings for devices walked over GATT.
type GATTConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectMax   int           `yaml:"reconnect_max"` // seconds
	KeepAlive      bool          `yaml:"keep_alive"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "beaconbridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Scan: ScanConfig{
			Backend:     "bluez",
			Adapter:     "hci0",
			Window:      5 * time.Second,
			Pause:       5 * time.Second,
			DedupWindow: 10 * time.Second,
		},
		Publisher: PublisherConfig{
			Kind: "mqtt",
			MQTT: MQTTConfig{
				Broker:      "tcp://127.0.0.1:1883",
				ClientID:    "beaconbridge",
				TopicPrefix: "mi_temp",
				QoS:         1,
			},
		},
		GATT: GATTConfig{
			ConnectTimeout: 10 * time.Second,
			ReconnectMax:   30,
			KeepAlive:      true,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults, then environment overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.Publisher.MQTT.Broker = v
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	switch c.Scan.Backend {
	case "bluez", "hci":
	default:
		return fmt.Errorf("scan.backend must be \"bluez\" or \"hci\", got %q", c.Scan.Backend)
	}
	if c.Scan.Window < 0 || c.Scan.Pause < 0 || c.Scan.DedupWindow < 0 {
		return fmt.Errorf("scan durations must not be negative")
	}

	seen := mapset.NewSet()
	for i, d := range c.Devices {
		mac, err := decode.ParseMAC(d.MAC)
		if err != nil {
			return fmt.Errorf("devices[%d].mac: %w", i, err)
		}
		if !seen.Add(mac) {
			return fmt.Errorf("devices[%d].mac: duplicate %s", i, mac)
		}
		if d.Token != "" {
			if _, err := crypto.ParseToken(d.Token); err != nil {
				return fmt.Errorf("devices[%d].token: %w", i, err)
			}
		}
		if _, err := decode.BatteryUnitFor(decode.Profile(d.Profile), decode.BatteryUnit(d.BatteryUnit)); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if d.GATT && c.Scan.Backend != "hci" {
			return fmt.Errorf("devices[%d].gatt requires scan.backend \"hci\"", i)
		}
	}

	switch c.Publisher.Kind {
	case "mqtt":
		m := c.Publisher.MQTT
		if m.Broker == "" {
			return fmt.Errorf("publisher.mqtt.broker must not be empty")
		}
		if m.ClientID == "" {
			return fmt.Errorf("publisher.mqtt.client_id must not be empty")
		}
		if m.TopicPrefix == "" {
			return fmt.Errorf("publisher.mqtt.topic_prefix must not be empty")
		}
		if m.QoS > 2 {
			return fmt.Errorf("publisher.mqtt.qos must be 0, 1, or 2, got %d", m.QoS)
		}
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.Topic == "" {
			return fmt.Errorf("publisher.pubsub.project_id and topic must not be empty")
		}
	case "log":
	default:
		return fmt.Errorf("publisher.kind must be mqtt, pubsub, or log, got %q", c.Publisher.Kind)
	}

	if c.GATT.ConnectTimeout <= 0 {
		return fmt.Errorf("gatt.connect_timeout must be > 0")
	}
	if c.GATT.ReconnectMax <= 0 {
		return fmt.Errorf("gatt.reconnect_max must be > 0")
	}

	return nil
}

// Keyring builds the decoder keyring from the device list. Call Validate
// first; Keyring reports the first invalid entry it meets.
func (c *Config) Keyring() (decode.Keyring, error) {
	keys := make(decode.Keyring, len(c.Devices))
	for i, d := range c.Devices {
		mac, err := decode.ParseMAC(d.MAC)
		if err != nil {
			return nil, fmt.Errorf("devices[%d].mac: %w", i, err)
		}
		var key []byte
		if d.Token != "" {
			if key, err = crypto.ParseToken(d.Token); err != nil {
				return nil, fmt.Errorf("devices[%d].token: %w", i, err)
			}
		}
		unit, err := decode.BatteryUnitFor(decode.Profile(d.Profile), decode.BatteryUnit(d.BatteryUnit))
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		keys.Add(decode.Device{MAC: mac, Name: d.Name, Key: key, BatteryUnit: unit})
	}
	return keys, nil
}

// AllowList returns the configured MACs as a set of decode.MAC. An empty set
// means every advertiser is accepted.
func (c *Config) AllowList() mapset.Set {
	set := mapset.NewSet()
	for _, d := range c.Devices {
		if mac, err := decode.ParseMAC(d.MAC); err == nil {
			set.Add(mac)
		}
	}
	return set
}

// GATTDevices returns the MACs of devices to connect to.
func (c *Config) GATTDevices() []decode.MAC {
	var macs []decode.MAC
	for _, d := range c.Devices {
		if !d.GATT {
			continue
		}
		if mac, err := decode.ParseMAC(d.MAC); err == nil {
			macs = append(macs, mac)
		}
	}
	return macs
}

// ParseLogLevel maps a config level name to a slog level. Unknown names
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# beaconbridge configuration
# Devices listed here form the allow-list; leave it empty to accept every
# advertiser. token is the 16-byte MiBeacon bind key in hex.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
