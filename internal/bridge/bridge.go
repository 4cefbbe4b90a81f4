package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/beaconbridge/internal/ble"
)

// Bridge runs the scanner and any GATT sessions until ctx ends.
type Bridge struct {
	scanner  ble.Scanner
	handler  *Handler
	sessions []*ble.Session
	logger   *slog.Logger
}

// New creates a bridge. sessions may be empty.
func New(scanner ble.Scanner, handler *Handler, sessions []*ble.Session, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{scanner: scanner, handler: handler, sessions: sessions, logger: logger}
}

// Run blocks until ctx is cancelled or the scanner fails. A failing session
// is logged and does not stop the scanner.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range b.sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				b.logger.Error("gatt session stopped", "error", err)
			}
		}()
	}

	err := b.scanner.Scan(ctx, func(a ble.Advertisement) {
		b.handler.HandleAdvertisement(ctx, a)
	})
	cancel()
	wg.Wait()

	st := b.handler.Stats()
	b.logger.Info("bridge stopped",
		"received", st.Received,
		"filtered", st.Filtered,
		"duplicate", st.Duplicate,
		"decoded", st.Decoded,
		"failed", st.Failed,
		"published", st.Published,
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge: scan: %w", err)
	}
	return nil
}
