package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
)

// Explore connects to mac, returns its service tree and disconnects.
func Explore(adapter Adapter, mac decode.MAC, timeout time.Duration) ([]gatt.Service, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := adapter.Connect(ctx, mac)
	if err != nil {
		return nil, fmt.Errorf("ble: connect for discovery: %w", err)
	}
	defer func() { _ = conn.Disconnect() }()

	services, err := conn.DiscoverServices()
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	return services, nil
}

// LogServices logs every discovered service and characteristic with its
// properties.
func LogServices(logger *slog.Logger, mac decode.MAC, services []gatt.Service) {
	n := 0
	for _, svc := range services {
		logger.Info("[BLE] service", "mac", mac, "uuid", svc.UUID, "characteristics", len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			logger.Info("[BLE]   characteristic", "mac", mac, "uuid", c.UUID, "props", c.Properties)
			n++
		}
	}
	logger.Info("[BLE] discovery complete", "mac", mac, "services", len(services), "characteristics", n)
}
