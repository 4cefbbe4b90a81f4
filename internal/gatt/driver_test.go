package gatt

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/assert"
)

// fakeTransport completes every accepted request immediately by queueing a
// Completion on its event channel.
type fakeTransport struct {
	events chan Event
	sent   []Command
	refuse map[int]error   // ordinal -> synchronous refusal
	fail   map[int]error   // ordinal -> failed completion
	values map[int][]byte  // ordinal -> read result
	before map[int][]Event // ordinal -> events queued ahead of the completion
	after  map[int][]Event // ordinal -> events queued behind the completion
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan Event, 64),
		refuse: make(map[int]error),
		fail:   make(map[int]error),
		values: make(map[int][]byte),
		before: make(map[int][]Event),
		after:  make(map[int][]Event),
	}
}

func (f *fakeTransport) EnableNotification(ref CharacteristicRef, indicate bool) error {
	return f.send(Command{Kind: OpEnableNotify, Ref: ref, UseIndicate: indicate})
}

func (f *fakeTransport) ReadCharacteristic(ref CharacteristicRef) error {
	return f.send(Command{Kind: OpRead, Ref: ref})
}

func (f *fakeTransport) Events() <-chan Event {
	return f.events
}

func (f *fakeTransport) send(cmd Command) error {
	f.sent = append(f.sent, cmd)
	if err := f.refuse[cmd.Ref.Ordinal]; err != nil {
		return err
	}
	for _, ev := range f.before[cmd.Ref.Ordinal] {
		f.events <- ev
	}
	f.events <- Completion{Kind: cmd.Kind, Ref: cmd.Ref, Value: f.values[cmd.Ref.Ordinal], Err: f.fail[cmd.Ref.Ordinal]}
	for _, ev := range f.after[cmd.Ref.Ordinal] {
		f.events <- ev
	}
	return nil
}

type delivered struct {
	Ordinal int
	Value   string
}

func collect(out *[]delivered) func(CharacteristicRef, []byte) {
	return func(ref CharacteristicRef, value []byte) {
		*out = append(*out, delivered{ref.Ordinal, string(value)})
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunWalksPlan(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	tr.values[0] = []byte("d")

	var got []delivered
	err := Run(testCtx(t), tr, plan, RunOptions{OnValue: collect(&got)})
	assert.NilError(t, err)

	assert.DeepEqual(t, tr.sent, []Command{
		{Kind: OpRead, Ref: ref(plan, 0)},
		{Kind: OpEnableNotify, Ref: ref(plan, 1)},
	})
	assert.DeepEqual(t, got, []delivered{{0, "d"}})
}

func TestRunRefusedCommand(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	tr.refuse[0] = errors.New("not connected")

	err := Run(testCtx(t), tr, plan, RunOptions{})
	assert.NilError(t, err)
	assert.Equal(t, len(tr.sent), 2)
	assert.Equal(t, tr.sent[1].Ref.Ordinal, 1)
}

func TestRunEveryCommandRefused(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	tr.refuse[0] = errors.New("busy")
	tr.refuse[1] = errors.New("busy")

	assert.NilError(t, Run(testCtx(t), tr, plan, RunOptions{}))
	assert.Equal(t, len(tr.sent), 2)
}

func TestRunFailedCompletionDoesNotDeliverValue(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	tr.values[0] = []byte("x")
	tr.fail[0] = errors.New("att: insufficient authentication")

	var got []delivered
	assert.NilError(t, Run(testCtx(t), tr, plan, RunOptions{OnValue: collect(&got)}))
	assert.Equal(t, len(got), 0)
	assert.Equal(t, len(tr.sent), 2)
}

func TestRunNotificationsDuringWalk(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	tr.before[0] = []Event{
		Notification{Ref: ref(plan, 1), Value: []byte("early")},
		// Stale completion for a request that is not outstanding.
		Completion{Kind: OpEnableNotify, Ref: ref(plan, 1)},
	}

	var got []delivered
	assert.NilError(t, Run(testCtx(t), tr, plan, RunOptions{OnValue: collect(&got)}))
	assert.DeepEqual(t, got, []delivered{{1, "early"}, {0, ""}})
	assert.Equal(t, len(tr.sent), 2)
}

func TestRunDisconnect(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	cause := errors.New("supervision timeout")
	tr.before[0] = []Event{Disconnected{Err: cause}}

	err := Run(testCtx(t), tr, plan, RunOptions{})
	assert.Assert(t, errors.Is(err, ErrDisconnected), "got %v", err)
	assert.Assert(t, errors.Is(err, cause), "got %v", err)
	assert.Equal(t, len(tr.sent), 1)
}

func TestRunEventsClosed(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := &closingTransport{events: make(chan Event)}
	close(tr.events)

	err := Run(testCtx(t), tr, plan, RunOptions{})
	assert.Assert(t, errors.Is(err, ErrDisconnected), "got %v", err)
}

type closingTransport struct{ events chan Event }

func (c *closingTransport) EnableNotification(CharacteristicRef, bool) error { return nil }
func (c *closingTransport) ReadCharacteristic(CharacteristicRef) error       { return nil }
func (c *closingTransport) Events() <-chan Event                             { return c.events }

func TestRunKeepAlive(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(testCtx(t))

	var got []delivered
	onValue := func(r CharacteristicRef, v []byte) {
		got = append(got, delivered{r.Ordinal, string(v)})
		if string(v) == "late" {
			cancel()
		}
	}
	tr.after[1] = []Event{Notification{Ref: ref(plan, 1), Value: []byte("late")}}

	err := Run(ctx, tr, plan, RunOptions{OnValue: onValue, KeepAlive: true})
	assert.Assert(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.DeepEqual(t, got, []delivered{{0, ""}, {1, "late"}})
}

func TestRunContextCancelled(t *testing.T) {
	plan := NewWalkPlan(twoServices())
	tr := &closingTransport{events: make(chan Event)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, tr, plan, RunOptions{})
	assert.Assert(t, errors.Is(err, context.Canceled), "got %v", err)
}
