// Package pipeline implements the bidirectional policy chain described in
// spec.md §4.2: an ordered sequence of Policies, each wrapping one
// hfsm.Machine, through which inbound events (wire -> application) and
// outbound events (application -> wire) flow. A Policy may synthesize new
// events toward either neighbor; a failure surfaced by a synthesized event
// is converted into an Error event and redelivered to the policy whose
// handler raised it, so that policy itself gets the chance to recover.
package pipeline

import (
	"sync"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqtterr"
)

// CriticalErrorHook is invoked when an Error event itself fails to be
// handled by its target. Spec §9 calls for this to be an injected
// capability rather than a process-global abort function, so tests can
// observe the fatal path without terminating the test binary.
type CriticalErrorHook func(p *Pipeline, err error)

// Policy is one node of the pipeline: it owns exactly one hfsm.Machine and
// knows its immediate neighbors. Neighbor links are set once at pipeline
// construction (New) and are immutable afterward.
type Policy struct {
	name    string
	machine *hfsm.Machine
	inbound *Policy // closer to the application
	outbound *Policy // closer to the wire
	pipeline *Pipeline
}

// NewPolicy allocates a Policy wrapping a fresh hfsm.Machine. Call Init (via
// the returned Machine) before wiring it into a Pipeline.
func NewPolicy(name string) *Policy {
	return &Policy{name: name, machine: hfsm.New(name)}
}

// Name returns the policy's diagnostic name.
func (p *Policy) Name() string { return p.name }

// Machine returns the wrapped state machine, for Init/Transition calls made
// by the policy's owner during construction.
func (p *Policy) Machine() *hfsm.Machine { return p.machine }

// Pipeline returns the owning pipeline, or nil before wiring.
func (p *Policy) Pipeline() *Pipeline { return p.pipeline }

// SendInbound forwards e to this policy's inbound neighbor (toward the
// application). Must be called only from within this policy's own handler
// dispatch. Returns mqtterr.ErrNoNeighbor if this policy is the inbound
// endpoint.
func (p *Policy) SendInbound(e hfsm.Event) error {
	if p.inbound == nil {
		return mqtterr.New("policy.SendInbound", "topology", mqtterr.ErrNoNeighbor).WithID(p.name)
	}
	return p.pipeline.dispatch(p.inbound, e, p)
}

// SendOutbound forwards e to this policy's outbound neighbor (toward the
// wire). Symmetric to SendInbound.
func (p *Policy) SendOutbound(e hfsm.Event) error {
	if p.outbound == nil {
		return mqtterr.New("policy.SendOutbound", "topology", mqtterr.ErrNoNeighbor).WithID(p.name)
	}
	return p.pipeline.dispatch(p.outbound, e, p)
}

// Pipeline owns an ordered chain of Policies and the two endpoint handles:
// OutboundEndpoint (closest to the wire — where inbound traffic and
// PostInbound originate) and InboundEndpoint (closest to the application —
// where outbound traffic and PostOutbound originate). The chain is acyclic
// and doubly consistent: policies are stored in a single owning slice and
// neighbors are plain pointers into that slice, never shared ownership
// (spec §9: "represent neighbor links as ... non-owning handles").
type Pipeline struct {
	mu       sync.Mutex // serializes all dispatch: spec §5 single-thread-per-pipeline guarantee
	policies []*Policy
	outbound *Policy // closest to the wire
	inbound  *Policy // closest to the application
	onFatal  CriticalErrorHook
}

// New builds a Pipeline from policies ordered outbound-endpoint-first,
// i.e. policies[0] is the wire-side endpoint and policies[len-1] is the
// application-side endpoint. Wires neighbor links and records the
// endpoints. onFatal may be nil (a nil hook makes fatal escalation a no-op,
// useful for tests that only want to observe the returned error).
func New(onFatal CriticalErrorHook, policies ...*Policy) *Pipeline {
	pl := &Pipeline{policies: policies, onFatal: onFatal}
	for i, p := range policies {
		p.pipeline = pl
		if i > 0 {
			p.outbound = policies[i-1]
		}
		if i < len(policies)-1 {
			p.inbound = policies[i+1]
		}
	}
	if len(policies) > 0 {
		pl.outbound = policies[0]
		pl.inbound = policies[len(policies)-1]
	}
	return pl
}

// OutboundEndpoint returns the policy closest to the wire.
func (pl *Pipeline) OutboundEndpoint() *Policy { return pl.outbound }

// InboundEndpoint returns the policy closest to the application.
func (pl *Pipeline) InboundEndpoint() *Policy { return pl.inbound }

// PostInbound synchronously sends e to the outbound endpoint — the
// naming follows spec §4.2: "post_inbound ... enters at the outbound-most
// policy because that is where inbound traffic originates". Acquires the
// pipeline-wide mutex so that back-end callbacks arriving on other threads
// serialize with any in-flight dispatch (spec §5).
func (pl *Pipeline) PostInbound(e hfsm.Event) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.outbound == nil {
		return mqtterr.New("pipeline.PostInbound", "topology", mqtterr.ErrNoNeighbor)
	}
	return pl.dispatchLocked(pl.outbound, e, nil)
}

// PostOutbound synchronously sends e to the inbound endpoint, symmetric to
// PostInbound.
func (pl *Pipeline) PostOutbound(e hfsm.Event) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.inbound == nil {
		return mqtterr.New("pipeline.PostOutbound", "topology", mqtterr.ErrNoNeighbor)
	}
	return pl.dispatchLocked(pl.inbound, e, nil)
}

// dispatch is called by Policy.SendInbound/SendOutbound, which always run
// from inside a handler already holding pl.mu (entered via PostInbound/
// PostOutbound), so it must NOT re-lock.
func (pl *Pipeline) dispatch(target *Policy, e hfsm.Event, origin *Policy) error {
	return pl.dispatchLocked(target, e, origin)
}

// dispatchLocked performs the actual send and, on handler failure raised by
// a synthesized in-handler send, converts it into an Error event redelivered
// to target itself (spec §4.2 Error propagation / §7 Handler failure).
// origin is the policy that originated a synthesized send, nil for a
// top-level PostInbound/PostOutbound call.
func (pl *Pipeline) dispatchLocked(target *Policy, e hfsm.Event, origin *Policy) error {
	err := target.machine.Send(e)
	if err == nil {
		return nil
	}
	if origin == nil {
		// Top-level post: nothing to convert into — the caller observes
		// the failure directly (e.g. unhandled ProcessLoop at an
		// endpoint that doesn't subscribe to it).
		return err
	}

	// A handler failure raised during in-handler synthesis is converted
	// into an Error event and redelivered directly to target — the same
	// policy whose handler just failed, not a neighbor (spec §4.2: the
	// failing policy is the one that can observe and recover, e.g. log
	// and continue, or retry). If target's own Error handling succeeds,
	// the original failure is considered recovered and dispatchLocked
	// reports success; only a failure to handle the Error event itself
	// escalates to the critical-error hook.
	errEvent := hfsm.Event{Kind: hfsm.Error, Payload: hfsm.ErrorPayload{
		Err:             err,
		OriginatingKind: e.Kind,
	}}

	recoverErr := target.machine.Send(errEvent)
	if recoverErr != nil {
		pl.fatal(mqtterr.New("pipeline.dispatch", "error-redispatch-failed", recoverErr))
		return recoverErr
	}
	return nil
}

func (pl *Pipeline) fatal(err error) {
	if pl.onFatal != nil {
		pl.onFatal(pl, err)
	}
}

// Fatal lets a policy request the critical-error hook directly (used by
// mqttadapter for the "programming error" unsubscribe callback and other
// unrecoverable back-end conditions, spec §4.4/§7).
func (pl *Pipeline) Fatal(err error) {
	pl.fatal(err)
}
