// Package reconnectpolicy layers automatic reconnection atop an adapter
// policy: it watches the adapter's inbound events for an unrequested
// disconnect and re-arms mqttadapter.Policy.Connect on an exponential
// backoff schedule, the event-driven equivalent of resilience.Retry's
// backoff loop in the teacher.
//
// Because its own retry timer fires through Pipeline.PostOutbound — which
// always targets the pipeline's inbound (application-side) endpoint — a
// Policy built by New must be wired as the last policy in the chain, i.e.
// the inbound endpoint. A caller wanting to sit beyond it observes adapter
// traffic through Observer rather than as a separate pipeline policy.
package reconnectpolicy

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqttadapter"
	"github.com/nodalcore/mqttpipe/mqttconfig"
	"github.com/nodalcore/mqttpipe/mqttlog"
	"github.com/nodalcore/mqttpipe/mqtttelemetry"
	"github.com/nodalcore/mqttpipe/pipeline"
	"github.com/nodalcore/mqttpipe/platform"
)

// retryTimeout is this package's private event kind, posted to itself
// through the pipeline's PostOutbound entry point when its retry timer
// expires. It never escapes the package.
var retryTimeout = hfsm.MakeKind(hfsm.FacilityUser, 1)

// Policy reconnects the wrapped adapter after an unrequested disconnect,
// backing off exponentially between attempts.
type Policy struct {
	*pipeline.Policy

	adapter *mqttadapter.Policy
	timers  platform.TimerFactory
	log     mqttlog.Logger
	metrics *mqtttelemetry.Recorder

	// Observer, if set, is called with every event this policy passes
	// through on its way toward the application — the hook a host uses
	// when this Policy is the pipeline's inbound endpoint and there is no
	// further policy to forward to.
	Observer func(hfsm.Event)

	mu         sync.Mutex
	cfg        mqttconfig.ReconnectConfig
	connectReq mqttadapter.ConnectRequest
	bo         *backoff.ExponentialBackOff
	timer      platform.Timer
	armed      bool
	elapsed    time.Duration
}

// New builds a reconnect policy wrapping adapter. connectReq is replayed on
// every retry; cfg tunes the backoff schedule (see mqttconfig.ReconnectConfig).
func New(name string, adapter *mqttadapter.Policy, connectReq mqttadapter.ConnectRequest, cfg mqttconfig.ReconnectConfig, timers platform.TimerFactory, log mqttlog.Logger, metrics *mqtttelemetry.Recorder) *Policy {
	if log == nil {
		log = mqttlog.NoOp()
	}
	p := &Policy{
		Policy:     pipeline.NewPolicy(name),
		adapter:    adapter,
		timers:     timers,
		log:        log,
		metrics:    metrics,
		cfg:        cfg,
		connectReq: connectReq,
		bo:         newBackOff(cfg),
	}
	if err := p.Machine().Init(p.stateActive, func(hfsm.Handler) hfsm.Handler { return nil }); err != nil {
		panic(err)
	}
	return p
}

func newBackOff(cfg mqttconfig.ReconnectConfig) *backoff.ExponentialBackOff {
	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	max := cfg.MaxInterval
	if max <= 0 {
		max = 30 * time.Second
	}
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(max),
		backoff.WithMultiplier(mult),
		backoff.WithMaxElapsedTime(cfg.MaxElapsedTime),
	)
}

// stateActive is this policy's only state: it has no internal phases of its
// own, just reactions to what flows through it.
func (p *Policy) stateActive(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
	switch e.Kind {
	case hfsm.Entry, hfsm.Exit:
		return hfsm.Ok, nil
	case mqttadapter.ConnAck:
		p.onConnected()
		return hfsm.Ok, p.pass(e)
	case mqttadapter.DisconnectEvent:
		payload, _ := e.Payload.(mqttadapter.DisconnectPayload)
		if !payload.Requested && p.cfg.Enabled {
			p.armRetry()
		}
		return hfsm.Ok, p.pass(e)
	case mqttadapter.PubAck, mqttadapter.SubAck, mqttadapter.Recv:
		return hfsm.Ok, p.pass(e)
	case retryTimeout:
		p.attemptReconnect()
		return hfsm.Ok, nil
	case hfsm.Error:
		payload, _ := e.Payload.(hfsm.ErrorPayload)
		p.log.Warn("reconnectpolicy: error event observed", map[string]any{
			"originatingKind": payload.OriginatingKind.String(),
		})
		return hfsm.Ok, nil
	}
	return hfsm.HandledBySuperState, nil
}

// pass forwards e toward the application, if this policy has an inbound
// neighbor, and always notifies Observer — the hook used when it doesn't.
func (p *Policy) pass(e hfsm.Event) error {
	if p.Observer != nil {
		p.Observer(e)
	}
	return ignoreNoNeighbor(p.SendInbound(e))
}

func (p *Policy) onConnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bo.Reset()
	p.elapsed = 0
	if p.timer != nil {
		p.timer.Destroy()
		p.timer = nil
	}
	p.armed = false
	if p.metrics != nil {
		p.metrics.CountReconnectAttempt(ctxBackground(), "success")
	}
}

// armRetry schedules the next reconnect attempt. Must be called from within
// this policy's own handler dispatch (holds the pipeline's dispatch lock).
func (p *Policy) armRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		return
	}
	next, ok := p.nextBackOffLocked()
	if !ok {
		p.log.Warn("reconnectpolicy: backoff schedule exhausted, giving up", nil)
		if p.metrics != nil {
			p.metrics.CountReconnectAttempt(ctxBackground(), "exhausted")
		}
		return
	}
	p.armed = true
	if p.timer == nil {
		p.timer = p.timers.NewTimer(p.onTimerFire)
	}
	p.timer.StartMsec(next.Milliseconds())
}

func (p *Policy) nextBackOffLocked() (time.Duration, bool) {
	d := p.bo.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	p.elapsed += d
	return d, true
}

// onTimerFire runs on the platform.Timer's own goroutine (spec §5: back-end
// and timer callbacks arrive off the calling thread). It re-enters the
// pipeline through PostOutbound, which serializes against any other
// in-flight dispatch and lands on this policy's own handler because this
// policy is the pipeline's inbound endpoint.
func (p *Policy) onTimerFire() {
	pl := p.Pipeline()
	if pl == nil {
		return
	}
	if err := pl.PostOutbound(hfsm.Event{Kind: retryTimeout}); err != nil {
		p.log.Warn("reconnectpolicy: retry timeout undeliverable", map[string]any{"err": err.Error()})
	}
}

// attemptReconnect runs under the pipeline's dispatch lock (see
// mqttadapter's outbound.go doc comment: Connect may be called "from within
// a handler already executing under the owning Pipeline's dispatch lock").
func (p *Policy) attemptReconnect() {
	p.mu.Lock()
	p.armed = false
	req := p.connectReq
	p.mu.Unlock()

	if err := p.adapter.Connect(req); err != nil {
		p.log.Warn("reconnectpolicy: reconnect attempt failed", map[string]any{"err": err.Error()})
		if p.metrics != nil {
			p.metrics.CountReconnectAttempt(ctxBackground(), "retry_failed")
		}
		p.armRetry()
		return
	}
	if p.metrics != nil {
		p.metrics.CountReconnectAttempt(ctxBackground(), "attempted")
	}
}

// Stop disarms any pending retry timer, e.g. before a deliberate shutdown.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Destroy()
		p.timer = nil
	}
	p.armed = false
}
