package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

const testToken = "e85feb3f6a5e5c1b2f4d9a60c2a8e111"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Scan.Backend != "bluez" {
		t.Errorf("Scan.Backend = %q, want %q", cfg.Scan.Backend, "bluez")
	}
	if cfg.Scan.DedupWindow != 10*time.Second {
		t.Errorf("Scan.DedupWindow = %v, want 10s", cfg.Scan.DedupWindow)
	}
	if cfg.Publisher.MQTT.TopicPrefix != "mi_temp" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.Publisher.MQTT.TopicPrefix, "mi_temp")
	}
	if cfg.Publisher.MQTT.QoS != 1 || cfg.Publisher.MQTT.Retained {
		t.Errorf("MQTT qos/retained = %d/%v, want 1/false", cfg.Publisher.MQTT.QoS, cfg.Publisher.MQTT.Retained)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
log_format: json
scan:
  backend: hci
  window: 3s
  pause: 0s
devices:
  - mac: "a4:c1:38:11:22:33"
    name: living-room
    token: `+testToken+`
    profile: lywsd03mmc
    gatt: true
publisher:
  kind: mqtt
  mqtt:
    broker: tcp://broker:1883
    topic_prefix: sensors
    retained: true
gatt:
  connect_timeout: 20s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q, want debug/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Scan.Window != 3*time.Second || cfg.Scan.Pause != 0 {
		t.Errorf("scan window/pause = %v/%v, want 3s/0s", cfg.Scan.Window, cfg.Scan.Pause)
	}
	// Unset keys keep their defaults.
	if cfg.Scan.Adapter != "hci0" {
		t.Errorf("Scan.Adapter = %q, want %q", cfg.Scan.Adapter, "hci0")
	}
	if cfg.Publisher.MQTT.ClientID != "beaconbridge" {
		t.Errorf("MQTT.ClientID = %q, want %q", cfg.Publisher.MQTT.ClientID, "beaconbridge")
	}
	if !cfg.Publisher.MQTT.Retained || cfg.Publisher.MQTT.TopicPrefix != "sensors" {
		t.Errorf("MQTT = %+v, want retained with prefix sensors", cfg.Publisher.MQTT)
	}
	if cfg.GATT.ConnectTimeout != 20*time.Second || cfg.GATT.ReconnectMax != 30 {
		t.Errorf("GATT = %+v, want 20s timeout and default reconnect_max", cfg.GATT)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Name != "living-room" {
		t.Fatalf("Devices = %+v, want one living-room entry", cfg.Devices)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvMQTTBroker, "tcp://override:1883")

	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Publisher.MQTT.Broker != "tcp://override:1883" {
		t.Errorf("MQTT.Broker = %q, want override", cfg.Publisher.MQTT.Broker)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	if err := os.WriteFile(filepath.Join(tmpHome, "bb.yaml"), []byte("log_level: error\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/bb.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "error")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "scan: [unclosed\n"))
	if err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	device := func(d DeviceConfig) func(*Config) {
		return func(c *Config) { c.Devices = append(c.Devices, d) }
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad backend", func(c *Config) { c.Scan.Backend = "corebluetooth" }, true},
		{"negative window", func(c *Config) { c.Scan.Window = -time.Second }, true},
		{"valid device", device(DeviceConfig{MAC: "A4:C1:38:11:22:33", Token: testToken, Profile: "lywsd03mmc"}), false},
		{"bad mac", device(DeviceConfig{MAC: "A4:C1:38"}), true},
		{"short token", device(DeviceConfig{MAC: "A4:C1:38:11:22:33", Token: "e85feb"}), true},
		{"bad profile", device(DeviceConfig{MAC: "A4:C1:38:11:22:33", Profile: "lywsd02"}), true},
		{"bad battery unit", device(DeviceConfig{MAC: "A4:C1:38:11:22:33", BatteryUnit: "percent"}), true},
		{"gatt without hci", device(DeviceConfig{MAC: "A4:C1:38:11:22:33", GATT: true}), true},
		{"gatt with hci", func(c *Config) {
			c.Scan.Backend = "hci"
			device(DeviceConfig{MAC: "A4:C1:38:11:22:33", GATT: true})(c)
		}, false},
		{"duplicate mac", func(c *Config) {
			device(DeviceConfig{MAC: "A4:C1:38:11:22:33"})(c)
			device(DeviceConfig{MAC: "a4-c1-38-11-22-33"})(c)
		}, true},
		{"bad publisher", func(c *Config) { c.Publisher.Kind = "kafka" }, true},
		{"empty broker", func(c *Config) { c.Publisher.MQTT.Broker = "" }, true},
		{"qos 3", func(c *Config) { c.Publisher.MQTT.QoS = 3 }, true},
		{"pubsub without topic", func(c *Config) {
			c.Publisher.Kind = "pubsub"
			c.Publisher.PubSub.ProjectID = "home"
		}, true},
		{"pubsub", func(c *Config) {
			c.Publisher.Kind = "pubsub"
			c.Publisher.PubSub = PubSubConfig{ProjectID: "home", Topic: "readings"}
		}, false},
		{"log publisher", func(c *Config) { c.Publisher.Kind = "log" }, false},
		{"zero connect timeout", func(c *Config) { c.GATT.ConnectTimeout = 0 }, true},
		{"zero reconnect max", func(c *Config) { c.GATT.ReconnectMax = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyring(t *testing.T) {
	cfg := Default()
	cfg.Devices = []DeviceConfig{
		{MAC: "A4:C1:38:11:22:33", Name: "living-room", Token: testToken, Profile: "lywsd03mmc"},
		{MAC: "A4:C1:38:44:55:66", Profile: "mjwsd05mmc"},
		{MAC: "A4:C1:38:77:88:99", Profile: "lywsd03mmc", BatteryUnit: "raw"},
	}

	keys, err := cfg.Keyring()
	if err != nil {
		t.Fatalf("Keyring() error = %v", err)
	}

	tests := []struct {
		mac     string
		wantKey bool
		unit    decode.BatteryUnit
	}{
		{"A4:C1:38:11:22:33", true, decode.BatteryMillivolts},
		{"A4:C1:38:44:55:66", false, decode.BatteryRaw},
		{"A4:C1:38:77:88:99", false, decode.BatteryRaw},
	}
	for _, tt := range tests {
		t.Run(tt.mac, func(t *testing.T) {
			mac, _ := decode.ParseMAC(tt.mac)
			d, ok := keys.Lookup(mac)
			if !ok {
				t.Fatalf("Lookup(%s) missing", tt.mac)
			}
			if (len(d.Key) == 16) != tt.wantKey {
				t.Errorf("key = %x, wantKey %v", d.Key, tt.wantKey)
			}
			if d.BatteryUnit != tt.unit {
				t.Errorf("BatteryUnit = %v, want %v", d.BatteryUnit, tt.unit)
			}
		})
	}
}

func TestAllowListAndGATTDevices(t *testing.T) {
	cfg := Default()
	if cfg.AllowList().Cardinality() != 0 {
		t.Error("empty device list should give an empty allow-list")
	}

	cfg.Devices = []DeviceConfig{
		{MAC: "A4:C1:38:11:22:33", GATT: true},
		{MAC: "a4:c1:38:44:55:66"},
	}
	allow := cfg.AllowList()
	for _, s := range []string{"A4:C1:38:11:22:33", "A4:C1:38:44:55:66"} {
		mac, _ := decode.ParseMAC(s)
		if !allow.Contains(mac) {
			t.Errorf("allow-list missing %s", s)
		}
	}

	gattMACs := cfg.GATTDevices()
	if len(gattMACs) != 1 || gattMACs[0].String() != "A4:C1:38:11:22:33" {
		t.Errorf("GATTDevices() = %v, want [A4:C1:38:11:22:33]", gattMACs)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "beaconbridge", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# beaconbridge") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Scan.Window != 5*time.Second {
		t.Errorf("written config Scan.Window = %v, want 5s", cfg.Scan.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "beaconbridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
