// Command gatt-walk connects to one peripheral over raw HCI, walks its GATT
// tree (enable notifications, read readable values) and prints every value
// it receives. Linux only; stop bluetoothd first.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/gatt-walk --mac A4:C1:38:11:22:33 [--explore] [--once]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/beaconbridge/internal/ble"
	"github.com/chaz8081/beaconbridge/internal/ble/protocol"
	"github.com/chaz8081/beaconbridge/internal/config"
	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
	"github.com/chaz8081/beaconbridge/internal/logging"
	"github.com/chaz8081/beaconbridge/internal/publish"
)

func main() {
	macFlag := flag.String("mac", "", "peripheral address")
	explore := flag.Bool("explore", false, "only list services and characteristics")
	once := flag.Bool("once", false, "disconnect after the walk instead of waiting for notifications")
	timeout := flag.Duration("timeout", 10*time.Second, "connect timeout")
	logLevel := flag.String("log-level", "debug", "debug, info, warn or error")
	flag.Parse()

	mac, err := decode.ParseMAC(*macFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: gatt-walk --mac <address> [--explore] [--once]")
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.LogLevel = *logLevel
	logger := logging.New(cfg, os.Stderr, "dev")
	slog.SetDefault(logger)

	adapter := ble.NewHCIAdapter(ble.ScanOptions{})

	if *explore {
		services, err := ble.Explore(adapter, mac, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, s := range services {
			fmt.Printf("service %s\n", s.UUID)
			for _, c := range s.Characteristics {
				fmt.Printf("  char %s [%s]\n", c.UUID, c.Properties)
			}
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	onValue := func(mac decode.MAC, ref gatt.CharacteristicRef, value []byte) {
		fmt.Printf("%s #%d %s: %s\n", mac, ref.Ordinal, ref.CharacteristicUUID, protocol.Hex(value))
		r := decode.Reading{MAC: mac, Format: "gatt", SeenAt: time.Now()}
		if ok, err := protocol.ParseValue(ref.CharacteristicUUID, value, &r); err != nil {
			fmt.Printf("    %v\n", err)
		} else if ok {
			data, _ := publish.Encode(r)
			fmt.Printf("    %s\n", data)
		}
	}

	opts := ble.DefaultSessionOptions()
	opts.ConnectTimeout = *timeout
	opts.KeepAlive = !*once
	logger.Info("connecting", "mac", mac)

	if err := ble.NewSession(adapter, mac, onValue, opts).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done.")
}
