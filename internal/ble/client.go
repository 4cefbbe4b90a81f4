package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/gatt"
)

// SessionOptions configures a GATT session.
type SessionOptions struct {
	ConnectTimeout time.Duration // per connection attempt
	ReconnectMax   int           // max reconnect backoff in seconds
	KeepAlive      bool          // stay connected for notifications after the walk
	StableAfter    time.Duration // uptime after which a dropped link is retried without backoff
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ConnectTimeout: 10 * time.Second,
		ReconnectMax:   30,
		KeepAlive:      true,
		StableAfter:    30 * time.Second,
	}
}

// ValueHandler receives characteristic values read or notified during a
// session.
type ValueHandler func(mac decode.MAC, ref gatt.CharacteristicRef, value []byte)

// Session keeps one peripheral connected and walks its GATT tree on every
// connection, reconnecting with exponential backoff when the link drops.
type Session struct {
	adapter Adapter
	mac     decode.MAC
	onValue ValueHandler
	opts    SessionOptions

	mu        sync.Mutex
	connected bool
	walks     int
}

// NewSession creates a session for mac. onValue may be nil.
func NewSession(adapter Adapter, mac decode.MAC, onValue ValueHandler, opts SessionOptions) *Session {
	if adapter == nil {
		panic("ble: NewSession called with nil adapter")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = 30 * time.Second
	}
	return &Session{
		adapter: adapter,
		mac:     mac,
		onValue: onValue,
		opts:    opts,
	}
}

// Run connects and walks until ctx is cancelled, or until the walk finishes
// when KeepAlive is off. It returns an error only for an unusable adapter or
// an inconsistent walk plan.
func (s *Session) Run(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	failures := 0
	for {
		uptime, err := s.connectAndWalk(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			return nil
		case errors.Is(err, gatt.ErrPlanInvariant):
			return err
		}

		// A link that held for StableAfter is retried at once. Short-lived
		// links back off like failed connects and discoveries.
		if errors.Is(err, gatt.ErrDisconnected) && uptime >= s.opts.StableAfter {
			failures = 0
			slog.Warn("[BLE] disconnected, reconnecting...", "mac", s.mac, "error", err)
			continue
		}
		delay := backoffDelay(failures, s.opts.ReconnectMax)
		failures++
		slog.Info("[BLE] reconnect backoff", "mac", s.mac, "attempt", failures, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connectAndWalk runs one connection from dial to teardown and reports how
// long the link was up.
func (s *Session) connectAndWalk(ctx context.Context) (uptime time.Duration, err error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	conn, err := s.adapter.Connect(cctx, s.mac)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("ble: connect to %s: %w", s.mac, err)
	}
	start := time.Now()
	s.setConnected()
	defer s.setDisconnected()
	defer func() {
		_ = conn.Disconnect()
		uptime = time.Since(start)
	}()

	slog.Info("[BLE] connected", "mac", s.mac)

	services, err := conn.DiscoverServices()
	if err != nil {
		return 0, fmt.Errorf("ble: discover services on %s: %w", s.mac, err)
	}
	LogServices(slog.Default(), s.mac, services)

	plan := gatt.NewWalkPlan(services)
	return 0, gatt.Run(ctx, conn, plan, gatt.RunOptions{
		OnValue: func(ref gatt.CharacteristicRef, value []byte) {
			if s.onValue != nil {
				s.onValue(s.mac, ref, value)
			}
		},
		KeepAlive: s.opts.KeepAlive,
		Logger:    slog.Default().With("mac", s.mac.String()),
	})
}

// Connected reports whether a link is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Walks returns the number of connections made so far.
func (s *Session) Walks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walks
}

func (s *Session) setConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.walks++
}

func (s *Session) setDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
