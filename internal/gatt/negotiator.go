package gatt

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrSpuriousCompletion is returned for a completion that does not match
	// the outstanding operation. The negotiator state is unchanged.
	ErrSpuriousCompletion = errors.New("gatt: spurious completion")

	// ErrPlanInvariant means the cursor points at an index the plan cannot
	// serve. The walk must be aborted.
	ErrPlanInvariant = errors.New("gatt: plan invariant violated")

	errAlreadyStarted = errors.New("gatt: negotiator already started")
)

// State is the negotiator's position in the per-characteristic cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingNotifyEnable
	StateAwaitingReadResult
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingNotifyEnable:
		return "awaiting-notify-enable"
	case StateAwaitingReadResult:
		return "awaiting-read-result"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OpKind is the kind of GATT request the negotiator issues.
type OpKind int

const (
	OpNone OpKind = iota
	OpEnableNotify
	OpRead
)

func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "none"
	case OpEnableNotify:
		return "enable-notify"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is the request currently awaiting a completion.
type Operation struct {
	Kind OpKind
	Ref  CharacteristicRef
}

// Cursor is the negotiator's only mutable state.
type Cursor struct {
	PlanIndex   int
	Outstanding Operation
}

// Command asks the transport to issue one GATT request.
type Command struct {
	Kind        OpKind
	Ref         CharacteristicRef
	UseIndicate bool // only for OpEnableNotify
}

// Step is what the caller must do next: issue Command, or stop because the
// walk is Done. Both are zero when nothing is to be done.
type Step struct {
	Command *Command
	Done    bool
}

// Completion reports the outcome of a previously issued Command. Err is nil
// on success; Value holds the read result for OpRead.
type Completion struct {
	Kind  OpKind
	Ref   CharacteristicRef
	Value []byte
	Err   error
}

// Negotiator serializes GATT requests over a WalkPlan: at most one request is
// outstanding, and the cursor moves only when that request completes.
// It is not safe for concurrent use; drive it from a single goroutine.
type Negotiator struct {
	plan    *WalkPlan
	logger  *slog.Logger
	cursor  Cursor
	state   State
	started bool
	done    chan struct{}
}

// NewNegotiator returns a negotiator for plan. A nil logger selects
// slog.Default().
func NewNegotiator(plan *WalkPlan, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		plan:   plan,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start evaluates the first entry. It may be called once.
func (n *Negotiator) Start() (Step, error) {
	if n.started {
		return Step{}, errAlreadyStarted
	}
	n.started = true
	return n.evaluate()
}

// HandleCompletion consumes the completion of the outstanding request and
// returns the next step. Completions after Done are ignored.
func (n *Negotiator) HandleCompletion(c Completion) (Step, error) {
	if n.state == StateDone {
		return Step{}, nil
	}
	out := n.cursor.Outstanding
	if out.Kind == OpNone || c.Kind != out.Kind || !c.Ref.Same(out.Ref) {
		n.logger.Debug("[GATT] dropping spurious completion",
			"kind", c.Kind, "ordinal", c.Ref.Ordinal, "char", c.Ref.CharacteristicUUID,
			"outstanding", out.Kind, "outstanding_ordinal", out.Ref.Ordinal)
		return Step{}, fmt.Errorf("%w: %s #%d while %s", ErrSpuriousCompletion, c.Kind, c.Ref.Ordinal, n.state)
	}
	if c.Err != nil {
		n.logger.Warn("[GATT] operation failed, moving on",
			"kind", c.Kind, "service", out.Ref.ServiceUUID, "char", out.Ref.CharacteristicUUID, "error", c.Err)
	}
	n.cursor.PlanIndex++
	n.cursor.Outstanding = Operation{}
	n.state = StateIdle
	return n.evaluate()
}

// State returns the current state.
func (n *Negotiator) State() State {
	return n.state
}

// Cursor returns a copy of the cursor.
func (n *Negotiator) Cursor() Cursor {
	return n.cursor
}

// Done is closed once the last plan entry has been handled.
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

// evaluate applies the entry rules from the current index until a request
// has to be issued or the plan is exhausted.
func (n *Negotiator) evaluate() (Step, error) {
	for {
		idx := n.cursor.PlanIndex
		if idx >= n.plan.Len() {
			n.state = StateDone
			close(n.done)
			n.logger.Debug("[GATT] walk complete", "entries", n.plan.Len())
			return Step{Done: true}, nil
		}
		ref, ok := n.plan.At(idx)
		if !ok || ref.Ordinal != idx {
			return Step{}, fmt.Errorf("%w: no entry for index %d of %d", ErrPlanInvariant, idx, n.plan.Len())
		}

		switch {
		case ref.Properties&(PropNotify|PropIndicate) != 0:
			cmd := &Command{Kind: OpEnableNotify, Ref: ref, UseIndicate: ref.Properties.Has(PropIndicate)}
			n.cursor.Outstanding = Operation{Kind: OpEnableNotify, Ref: ref}
			n.state = StateAwaitingNotifyEnable
			return Step{Command: cmd}, nil
		case ref.Properties.Has(PropRead):
			cmd := &Command{Kind: OpRead, Ref: ref}
			n.cursor.Outstanding = Operation{Kind: OpRead, Ref: ref}
			n.state = StateAwaitingReadResult
			return Step{Command: cmd}, nil
		default:
			n.logger.Debug("[GATT] skipping characteristic", "char", ref.CharacteristicUUID, "props", ref.Properties)
			n.cursor.PlanIndex++
		}
	}
}
