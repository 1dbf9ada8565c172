// Package pipelinetimer implements the one-shot timer described in spec.md
// §4.3: a platform.Timer bound to a Pipeline whose expiry synthesizes a
// Timeout event and posts it at the pipeline's outbound endpoint (the side
// closest to the wire, where reconnection/backoff policies live).
package pipelinetimer

import (
	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqtterr"
	"github.com/nodalcore/mqttpipe/pipeline"
	"github.com/nodalcore/mqttpipe/platform"
)

// Timer owns a platform timer and a back-reference to the pipeline it
// posts into. Created by its owner, destroyed explicitly; the callback must
// never fire after Destroy completes (guaranteed transitively by
// platform.Timer.Destroy).
type Timer struct {
	pl    *pipeline.Pipeline
	timer platform.Timer
}

// Create allocates the platform timer and wires its callback to post a
// Timeout event on pl, but does not arm it (spec §4.3: "Does not arm the
// timer").
func Create(port platform.TimerFactory, pl *pipeline.Pipeline) *Timer {
	t := &Timer{pl: pl}
	t.timer = port.NewTimer(t.onExpire)
	return t
}

// Start arms (or re-arms) the timer. ms == 0 fires as soon as the scheduler
// permits.
func (t *Timer) Start(ms int64) {
	t.timer.StartMsec(ms)
}

// Destroy disarms and releases the underlying platform timer. Safe to call
// more than once and safe to call on an already-expired timer.
func (t *Timer) Destroy() {
	t.timer.Destroy()
}

// onExpire runs in whatever context the platform timer delivers callbacks
// on (spec §5: "may be a separate thread"). It synthesizes Timeout and
// posts it at the outbound endpoint; a failing dispatch is escalated as an
// Error event toward the inbound endpoint exactly once (spec §4.3/§7,
// testable property 4).
func (t *Timer) onExpire() {
	err := t.pl.PostInbound(hfsm.Event{Kind: hfsm.Timeout})
	if err == nil {
		return
	}
	escalation := hfsm.Event{Kind: hfsm.Error, Payload: hfsm.ErrorPayload{
		Err:             err,
		OriginatingKind: hfsm.Timeout,
	}}
	if escErr := t.pl.PostOutbound(escalation); escErr != nil {
		t.pl.Fatal(mqtterr.New("pipelinetimer.onExpire", "error-redispatch-failed", escErr))
	}
}
