package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/beaconbridge/internal/ble"
	"github.com/chaz8081/beaconbridge/internal/bridge"
	"github.com/chaz8081/beaconbridge/internal/config"
	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/logging"
	"github.com/chaz8081/beaconbridge/internal/publish"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/beaconbridge/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("beaconbridge", version)
		return
	}
	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := logging.New(cfg, os.Stderr, version)
	slog.SetDefault(logger)

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("beaconbridge stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	keys, err := cfg.Keyring()
	if err != nil {
		return err
	}

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	handler := bridge.NewHandler(decode.NewDecoder(decode.NewRegistry(), keys), pub, bridge.Options{
		AllowList:   cfg.AllowList(),
		DedupWindow: cfg.Scan.DedupWindow,
		Logger:      logger.With("component", "bridge"),
	})

	scanOpts := ble.ScanOptions{
		Adapter: cfg.Scan.Adapter,
		Window:  cfg.Scan.Window,
		Pause:   cfg.Scan.Pause,
	}

	var scanner ble.Scanner
	var sessions []*ble.Session
	switch cfg.Scan.Backend {
	case "hci":
		hci := ble.NewHCIAdapter(scanOpts)
		scanner = hci
		sessionOpts := ble.SessionOptions{
			ConnectTimeout: cfg.GATT.ConnectTimeout,
			ReconnectMax:   cfg.GATT.ReconnectMax,
			KeepAlive:      cfg.GATT.KeepAlive,
		}
		for _, mac := range cfg.GATTDevices() {
			sessions = append(sessions, ble.NewSession(hci, mac, handler.GATTValueHandler(ctx), sessionOpts))
		}
	default:
		scanner = ble.NewBlueZScanner(scanOpts)
	}

	if err := scanner.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth: %w", err)
	}

	logger.Info("Ready! Ctrl+C to quit.", "devices", len(cfg.Devices), "gatt_sessions", len(sessions))
	return bridge.New(scanner, handler, sessions, logger).Run(ctx)
}

// newPublisher builds the configured sink. The MQTT publisher connects in
// the background so that scanning starts while the broker is unreachable.
func newPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (publish.Publisher, error) {
	switch cfg.Publisher.Kind {
	case "mqtt":
		p := publish.NewMQTT(cfg.Publisher.MQTT, logger)
		go func() {
			if err := p.Connect(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mqtt connect failed", "broker", cfg.Publisher.MQTT.Broker, "error", err)
			}
		}()
		return p, nil
	case "pubsub":
		return publish.NewPubSub(ctx, cfg.Publisher.PubSub, logger)
	default:
		return publish.NewLogPublisher(logger), nil
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== beaconbridge ===")
	fmt.Printf("  Scan:      %s on %s (window %s, pause %s)\n", cfg.Scan.Backend, cfg.Scan.Adapter, cfg.Scan.Window, cfg.Scan.Pause)
	if len(cfg.Devices) == 0 {
		fmt.Println("  Devices:   any")
	} else {
		fmt.Printf("  Devices:   %d configured\n", len(cfg.Devices))
	}
	switch cfg.Publisher.Kind {
	case "mqtt":
		fmt.Printf("  Publish:   mqtt %s (%s/<mac>/state)\n", cfg.Publisher.MQTT.Broker, cfg.Publisher.MQTT.TopicPrefix)
	case "pubsub":
		fmt.Printf("  Publish:   pubsub %s/%s\n", cfg.Publisher.PubSub.ProjectID, cfg.Publisher.PubSub.Topic)
	default:
		fmt.Printf("  Publish:   %s\n", cfg.Publisher.Kind)
	}
	fmt.Printf("  Log:       %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("====================")
}
