//go:build mqttpipe_processloop

package pipeline

import (
	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqtterr"
)

// SyncProcessLoop synthesizes a ProcessLoop intrinsic event and posts it to
// both endpoints, the same single-hop way PostInbound/PostOutbound deliver
// any other event (spec §4.2). A policy wanting every chain member visited
// forwards ProcessLoop onward via SendInbound/SendOutbound from its own
// handler, exactly as mqttadapter's forwardInbound does for other event
// kinds; SyncProcessLoop itself only guarantees the two endpoints see one
// cycle each. Only built with -tags mqttpipe_processloop; the default
// back-end-driven build omits this operation entirely.
//
// A policy with nothing to do on ProcessLoop simply declines it (bubbles to
// HandledBySuperState past its root, surfacing ErrUnhandled), which this
// function treats as success rather than failure — ProcessLoop is a
// broadcast, not a request every policy must answer.
func SyncProcessLoop(pl *Pipeline) error {
	e := hfsm.Event{Kind: hfsm.ProcessLoop}
	if err := ignoreUnhandled(pl.PostInbound(e)); err != nil {
		return err
	}
	return ignoreUnhandled(pl.PostOutbound(e))
}

func ignoreUnhandled(err error) error {
	if err == nil || mqtterr.IsUnhandled(err) {
		return nil
	}
	return err
}
