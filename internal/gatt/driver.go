package gatt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrDisconnected is returned by Run when the link drops.
var ErrDisconnected = errors.New("gatt: disconnected")

// Event is something the transport reports asynchronously: a Completion, a
// Notification or Disconnected.
type Event interface {
	event()
}

// Notification carries a value pushed by the peripheral.
type Notification struct {
	Ref   CharacteristicRef
	Value []byte
}

// Disconnected reports the end of the connection.
type Disconnected struct {
	Err error
}

func (Completion) event()   {}
func (Notification) event() {}
func (Disconnected) event() {}

// Transport issues GATT requests for one connection. Both request methods
// must return immediately; the outcome arrives later as a Completion on
// Events. An error return means the request was never sent.
type Transport interface {
	EnableNotification(ref CharacteristicRef, indicate bool) error
	ReadCharacteristic(ref CharacteristicRef) error
	Events() <-chan Event
}

// RunOptions configures Run.
type RunOptions struct {
	// OnValue receives notification payloads and successful read results.
	OnValue func(ref CharacteristicRef, value []byte)
	// KeepAlive keeps delivering notifications after the walk is done,
	// until ctx ends or the link drops.
	KeepAlive bool
	Logger    *slog.Logger
}

// Run walks plan over t, one request at a time. It returns nil once every
// entry has been handled (unless KeepAlive is set), ErrDisconnected when the
// link drops, ctx.Err() on cancellation, and ErrPlanInvariant if the plan is
// inconsistent.
func Run(ctx context.Context, t Transport, plan *WalkPlan, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := NewNegotiator(plan, logger)
	events := t.Events()

	step, err := n.Start()
	for {
		step, err = issue(t, n, step, err)
		if err != nil {
			return err
		}
		if step.Done {
			logger.Info("[GATT] all characteristics handled", "entries", plan.Len())
			if !opts.KeepAlive {
				return nil
			}
		}
		step = Step{}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrDisconnected
			}
			switch ev := ev.(type) {
			case Completion:
				step, err = n.HandleCompletion(ev)
				if errors.Is(err, ErrSpuriousCompletion) {
					logger.Warn("[GATT] ignoring completion", "error", err)
					step, err = Step{}, nil
					continue
				}
				if err == nil && ev.Kind == OpRead && ev.Err == nil && opts.OnValue != nil {
					opts.OnValue(ev.Ref, ev.Value)
				}
			case Notification:
				if opts.OnValue != nil {
					opts.OnValue(ev.Ref, ev.Value)
				}
			case Disconnected:
				if ev.Err != nil {
					return fmt.Errorf("%w: %w", ErrDisconnected, ev.Err)
				}
				return ErrDisconnected
			}
		}
	}
}

// issue sends the command in step, if any. A request the transport refuses
// is fed back to the negotiator as a failed completion so the walk moves on.
func issue(t Transport, n *Negotiator, step Step, err error) (Step, error) {
	for err == nil && step.Command != nil {
		cmd := step.Command
		var sendErr error
		switch cmd.Kind {
		case OpEnableNotify:
			sendErr = t.EnableNotification(cmd.Ref, cmd.UseIndicate)
		case OpRead:
			sendErr = t.ReadCharacteristic(cmd.Ref)
		default:
			sendErr = fmt.Errorf("gatt: unknown command %s", cmd.Kind)
		}
		if sendErr == nil {
			return Step{}, nil
		}
		step, err = n.HandleCompletion(Completion{Kind: cmd.Kind, Ref: cmd.Ref, Err: sendErr})
	}
	return step, err
}
