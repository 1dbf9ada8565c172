// Package hfsm implements a hierarchical finite state machine: states form a
// tree, and an event a state's handler does not claim bubbles to its parent.
// A Machine dispatches one event at a time and must never be re-entered from
// within its own handler (handlers may only Send against other machines, see
// pipeline.Policy).
package hfsm

import (
	"fmt"
	"reflect"

	"github.com/nodalcore/mqttpipe/mqtterr"
)

// Kind is a 32-bit opaque event identifier. The high byte is reserved for
// the facility (intrinsic, mqtt, iot, user); the rest is an ordinal private
// to that facility.
type Kind uint32

// Facility partitions the Kind space.
type Facility uint8

const (
	FacilityIntrinsic Facility = iota
	FacilityMQTT
	FacilityIoT
	FacilityUser
)

// MakeKind packs a facility and ordinal into a Kind.
func MakeKind(f Facility, ordinal uint32) Kind {
	return Kind(uint32(f)<<24 | (ordinal & 0x00FFFFFF))
}

// Facility extracts the facility from a Kind.
func (k Kind) Facility() Facility { return Facility(k >> 24) }

// Intrinsic event kinds reserved by the runtime.
const (
	Entry Kind = Kind(iota)
	Exit
	Error
	Timeout
	ProcessLoop // only ever sent when built with the processloop mode, see pipeline.
)

func (k Kind) String() string {
	switch k {
	case Entry:
		return "Entry"
	case Exit:
		return "Exit"
	case Error:
		return "Error"
	case Timeout:
		return "Timeout"
	case ProcessLoop:
		return "ProcessLoop"
	default:
		return fmt.Sprintf("Kind(facility=%d,ordinal=%d)", k.Facility(), uint32(k)&0x00FFFFFF)
	}
}

// ErrorPayload is the payload shape mandated by spec.md §3 for Error events.
type ErrorPayload struct {
	Err             error
	OriginatingKind Kind
	Message         string
}

// Event is a tagged value flowing through a Machine or Pipeline. Payload's
// concrete type is determined by Kind; handlers type-assert it.
type Event struct {
	Kind    Kind
	Payload any
}

// Result is the outcome of a Handler's dispatch.
type Result int

const (
	// Ok means the handler fully processed the event.
	Ok Result = iota
	// HandledBySuperState asks the machine to re-dispatch to the parent
	// state; it is not itself a failure.
	HandledBySuperState
)

// Handler is a state's event processing capability. Handlers must be pure
// with respect to dispatch: they may not call Send against the Machine they
// are currently being invoked from.
type Handler func(m *Machine, e Event) (Result, error)

// ParentLookup maps a state handler to its immediate parent, or nil for a
// root state. It is supplied once at Init and never changes.
type ParentLookup func(state Handler) Handler

// Machine is one hierarchical state machine. The zero value is not usable;
// build with New.
type Machine struct {
	name    string
	current Handler
	parent  ParentLookup
}

// New allocates a Machine. Call Init before Send/Transition.
func New(name string) *Machine {
	return &Machine{name: name}
}

// Name returns the machine's diagnostic name.
func (m *Machine) Name() string { return m.name }

// Current returns the currently active state handler.
func (m *Machine) Current() Handler { return m.current }

// Init sets the current state to initial and synchronously dispatches Entry
// to it. Fails if the Entry dispatch fails.
func (m *Machine) Init(initial Handler, parent ParentLookup) error {
	m.parent = parent
	m.current = initial
	res, err := initial(m, Event{Kind: Entry})
	if err != nil {
		return err
	}
	if res == HandledBySuperState {
		// A root's Entry handler has nowhere further to bubble to, and
		// declining Entry is nonsensical, so treat it as unhandled.
		return mqtterr.New("hfsm.Init", "unhandled", mqtterr.ErrUnhandled)
	}
	return nil
}

// Send dispatches e to the current state, bubbling to successive parents
// while the handler returns HandledBySuperState. Returns ErrUnhandled if the
// root itself declines.
func (m *Machine) Send(e Event) error {
	state := m.current
	for {
		res, err := state(m, e)
		if err != nil {
			return err
		}
		if res == Ok {
			return nil
		}
		parent := m.lookupParent(state)
		if parent == nil {
			return mqtterr.New("hfsm.Send", "unhandled", mqtterr.ErrUnhandled).WithID(e.Kind.String())
		}
		state = parent
	}
}

func (m *Machine) lookupParent(state Handler) Handler {
	if m.parent == nil {
		return nil
	}
	return m.parent(state)
}

// Transition moves the machine from source to target: Exit is dispatched
// inside-out from source up to (not including) the closest common ancestor,
// then Entry is dispatched outside-in (i.e. from the ancestor's immediate
// child) down to target. source must be the current state or a super-state
// of it.
func (m *Machine) Transition(source, target Handler) error {
	if !m.isCurrentOrSuper(source) {
		return mqtterr.New("hfsm.Transition", "state", mqtterr.ErrNoSuchSuperState)
	}

	ancestor := m.commonAncestor(source, target)

	// Exit upward from source to (not including) the common ancestor.
	for s := source; s != nil && !sameHandler(s, ancestor); s = m.lookupParent(s) {
		if _, err := s(m, Event{Kind: Exit}); err != nil {
			return err
		}
	}

	// Build the entry chain from target back up to (not including)
	// ancestor, then dispatch it outside-in.
	var chain []Handler
	for s := target; s != nil && !sameHandler(s, ancestor); s = m.lookupParent(s) {
		chain = append(chain, s)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		// The machine's "current" pointer must already be the Entry
		// target at the moment Entry is dispatched (spec §3 invariant).
		m.current = chain[i]
		if _, err := chain[i](m, Event{Kind: Entry}); err != nil {
			return err
		}
	}
	m.current = target
	return nil
}

func (m *Machine) isCurrentOrSuper(h Handler) bool {
	for s := m.current; s != nil; s = m.lookupParent(s) {
		if sameHandler(s, h) {
			return true
		}
	}
	return false
}

// commonAncestor walks source's ancestor chain into a slice, then walks
// target's chain until it finds a member of that chain.
func (m *Machine) commonAncestor(source, target Handler) Handler {
	var sourceChain []Handler
	for s := source; s != nil; s = m.lookupParent(s) {
		sourceChain = append(sourceChain, s)
	}
	for t := target; t != nil; t = m.lookupParent(t) {
		for _, s := range sourceChain {
			if sameHandler(s, t) {
				return t
			}
		}
	}
	return nil // no common ancestor: both reach the (implicit, nil-parented) root
}

// sameHandler compares two state handlers for identity. Go func values are
// not comparable with ==, so states are compared by the address of their
// underlying code pointer via reflect, which is stable for named functions
// and methods (the only shapes states are expected to take).
func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return funcPointer(a) == funcPointer(b)
}

func funcPointer(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
