package mqttadapter

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqttlog"
	"github.com/nodalcore/mqttpipe/pipeline"
)

// NewClientID generates a default MQTT client id when the caller doesn't
// supply one, the way core/agent.go generates a default instance id.
func NewClientID() string {
	return "mqttpipe-" + uuid.NewString()
}

// BackendFactory constructs a Backend bound to this policy's Injector once
// the policy is ready to connect — mqtt_init defers actual client
// construction until outbound_connect (spec §4.4 "Init").
type BackendFactory func(inj Injector, opts Options) (Backend, error)

// Policy is the adapter policy described in spec §4.4: it wraps the MQTT
// back-end behind the pipeline's HFSM/Policy contract, translating outbound
// operations to back-end calls and back-end callbacks to inbound pipeline
// events.
type Policy struct {
	*pipeline.Policy

	mu      sync.Mutex
	opts    Options
	factory BackendFactory
	backend Backend
	log     mqttlog.Logger
}

// New builds an adapter Policy. The backend is constructed lazily by
// factory on the first Connect; later Connect calls reuse it (spec §4.4
// Init).
func New(name string, factory BackendFactory, opts Options, log mqttlog.Logger) *Policy {
	if log == nil {
		log = mqttlog.NoOp()
	}
	p := &Policy{
		Policy:  pipeline.NewPolicy(name),
		opts:    opts,
		factory: factory,
		log:     log,
	}

	base := p.stateBase
	idle := p.stateIdle
	connecting := p.stateConnecting
	connected := p.stateConnected
	disconnecting := p.stateDisconnecting
	fatalState := p.stateFatal

	parentOf := func(h hfsm.Handler) hfsm.Handler {
		switch {
		case sameFunc(h, idle), sameFunc(h, connecting), sameFunc(h, connected), sameFunc(h, disconnecting), sameFunc(h, fatalState):
			return base
		default:
			return nil
		}
	}

	if err := p.Machine().Init(idle, parentOf); err != nil {
		// Entry to Idle cannot fail in this implementation; a non-nil
		// error here means a caller wired a broken parent map.
		panic(err)
	}
	return p
}

// --- Injector -------------------------------------------------------------

func (p *Policy) InjectConnAck(payload ConnAckPayload) {
	p.inject(hfsm.Event{Kind: ConnAck, Payload: payload})
}

func (p *Policy) InjectDisconnect(payload DisconnectPayload) {
	p.inject(hfsm.Event{Kind: DisconnectEvent, Payload: payload})
}

func (p *Policy) InjectPubAck(payload PubAckPayload) {
	p.inject(hfsm.Event{Kind: PubAck, Payload: payload})
}

func (p *Policy) InjectSubAck(payload SubAckPayload) {
	p.inject(hfsm.Event{Kind: SubAck, Payload: payload})
}

func (p *Policy) InjectRecv(payload RecvPayload) {
	p.inject(hfsm.Event{Kind: Recv, Payload: payload})
}

func (p *Policy) InjectUnsubscribe() {
	// Spec §4.4/§9: unsubscribe is not supported; observing this
	// callback is a programming error in the back-end and is treated as
	// intentional, never silently converted into a graceful event.
	p.Pipeline().Fatal(unsubscribeErr{})
	p.inject(hfsm.Event{Kind: hfsm.Error, Payload: hfsm.ErrorPayload{
		Err:             unsubscribeErr{},
		OriginatingKind: hfsm.MakeKind(hfsm.FacilityMQTT, 0),
		Message:         "unsubscribe callback observed; adapter contract does not support it",
	}})
}

func (p *Policy) InjectCriticalError(err error) {
	p.Pipeline().Fatal(err)
	p.inject(hfsm.Event{Kind: hfsm.Error, Payload: hfsm.ErrorPayload{Err: err}})
}

type unsubscribeErr struct{}

func (unsubscribeErr) Error() string { return "unexpected unsubscribe callback from back-end" }

// inject posts e at the pipeline's outbound endpoint (this policy, in the
// expected wiring), serialized through the pipeline mutex (spec §5: back-end
// callbacks arrive on other threads and must be serialized onto the
// pipeline).
func (p *Policy) inject(e hfsm.Event) {
	pl := p.Pipeline()
	if pl == nil {
		return
	}
	if err := pl.PostInbound(e); err != nil {
		p.log.Warn("adapter: unhandled inbound event", map[string]any{
			"kind": e.Kind.String(),
			"err":  err.Error(),
		})
	}
}

func sameFunc(a, b hfsm.Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
