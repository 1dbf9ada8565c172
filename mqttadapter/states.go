package mqttadapter

import (
	"errors"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqtterr"
)

// forwardInbound passes e on to the next policy toward the application, for
// the benefit of higher policies (e.g. a reconnect policy watching ConnAck/
// Disconnect, or the application itself watching Recv). Having no inbound
// neighbor is not an error here: the adapter may legitimately be the only
// policy in the pipeline.
func (p *Policy) forwardInbound(e hfsm.Event) error {
	err := p.SendInbound(e)
	if err == nil || errors.Is(err, mqtterr.ErrNoNeighbor) {
		return nil
	}
	return err
}

// State diagram (spec §4.4):
//
//	Idle --outbound_connect--> Connecting --ConnAck(ok)--> Connected
//	                                    \--ConnAck(err)--> Idle (emits inbound Disconnect)
//	Connected --outbound_disconnect--> Disconnecting --Disconnect--> Idle
//	Connected --Disconnect(peer)------> Idle
//	Any      --critical back-end error-> Fatal  (host process is asked to abort)

// stateBase is the common parent of every leaf state. It handles the events
// that apply "Any" state per the diagram above — a critical error always
// wins, regardless of what sub-state declined it first.
func (p *Policy) stateBase(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	case hfsm.Error:
		// A critical error bubbled up unclaimed by the current leaf
		// state: move to Fatal.
		_ = m.Transition(m.Current(), p.stateFatal)
		return hfsm.Ok, nil
	}
	return hfsm.HandledBySuperState, nil
}

func (p *Policy) stateIdle(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	}
	return hfsm.HandledBySuperState, nil
}

func (p *Policy) stateConnecting(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	case ConnAck:
		payload := e.Payload.(ConnAckPayload)
		if payload.ReasonCode == 0 && !payload.TLSAuthError {
			if err := m.Transition(p.stateConnecting, p.stateConnected); err != nil {
				return hfsm.Ok, err
			}
			return hfsm.Ok, p.forwardInbound(e)
		}
		if err := m.Transition(p.stateConnecting, p.stateIdle); err != nil {
			return hfsm.Ok, err
		}
		// Emit the Disconnect notification for higher policies via
		// SendInbound directly — not Policy.inject, which re-locks the
		// pipeline mutex this handler is already running under.
		return hfsm.Ok, p.forwardInbound(hfsm.Event{Kind: DisconnectEvent, Payload: DisconnectPayload{
			Requested:    false,
			TLSAuthError: payload.TLSAuthError,
		}})
	}
	return hfsm.HandledBySuperState, nil
}

func (p *Policy) stateConnected(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	case DisconnectEvent:
		// Peer-initiated disconnect.
		payload, _ := e.Payload.(DisconnectPayload)
		if payload.Requested {
			// Our own Disconnect() call already moved us to
			// Disconnecting synchronously; a requested-disconnect
			// event seen while still Connected is stale. Let the
			// (now current) state's handler decide, if any.
			return hfsm.HandledBySuperState, nil
		}
		if err := m.Transition(p.stateConnected, p.stateIdle); err != nil {
			return hfsm.Ok, err
		}
		return hfsm.Ok, p.forwardInbound(e)
	case PubAck, SubAck, Recv:
		// Pass-through events the adapter doesn't act on itself; forward
		// them toward the application.
		return hfsm.Ok, p.forwardInbound(e)
	}
	return hfsm.HandledBySuperState, nil
}

func (p *Policy) stateDisconnecting(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	case DisconnectEvent:
		if err := m.Transition(p.stateDisconnecting, p.stateIdle); err != nil {
			return hfsm.Ok, err
		}
		return hfsm.Ok, p.forwardInbound(e)
	}
	return hfsm.HandledBySuperState, nil
}

func (p *Policy) stateFatal(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	if e.Kind == hfsm.Entry {
		p.mu.Lock()
		backend := p.backend
		p.mu.Unlock()
		if backend != nil {
			_ = backend.Close()
		}
		return hfsm.Ok, nil
	}
	if e.Kind == hfsm.Exit {
		return hfsm.Ok, nil
	}
	// Fatal is terminal: nothing further is processed, but dispatch must
	// still return cleanly rather than bubble to base and loop.
	return hfsm.Ok, nil
}

// errNotIdle / errNotConnected guard the internal outbound-operation
// preconditions; they are wrapped, not asserted with a panic, so a
// misbehaving caller gets a normal error rather than crashing the pipeline
// (release-build behavior per spec §7 is caller-validates, but returning an
// error here costs nothing and is strictly safer).
var (
	errNotIdle       = errors.New("adapter: outbound_connect requires Idle state")
	errNotConnected  = errors.New("adapter: outbound operation requires Connected state")
)
