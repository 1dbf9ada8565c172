//go:build mqttpipe_processloop

package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/pipeline"
)

func TestSyncProcessLoopVisitsBothEndpoints(t *testing.T) {
	seen := map[string]int{}
	makeHandler := func(name string) hfsm.Handler {
		return func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
			switch e.Kind {
			case hfsm.Entry, hfsm.Exit:
				return hfsm.Ok, nil
			case hfsm.ProcessLoop:
				seen[name]++
				return hfsm.Ok, nil
			}
			return hfsm.HandledBySuperState, nil
		}
	}

	outbound := pipeline.NewPolicy("outbound")
	middle := pipeline.NewPolicy("middle")
	inbound := pipeline.NewPolicy("inbound")
	for _, pair := range []struct {
		p *pipeline.Policy
		n string
	}{{outbound, "outbound"}, {middle, "middle"}, {inbound, "inbound"}} {
		h := makeHandler(pair.n)
		require.NoError(t, pair.p.Machine().Init(h, func(hfsm.Handler) hfsm.Handler { return nil }))
	}

	pl := pipeline.New(nil, outbound, middle, inbound)
	require.NoError(t, pipeline.SyncProcessLoop(pl))

	require.Equal(t, 1, seen["outbound"])
	require.Equal(t, 1, seen["inbound"])
}

func TestSyncProcessLoopToleratesDecliningPolicy(t *testing.T) {
	declining := pipeline.NewPolicy("declining")
	root := func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
		if e.Kind == hfsm.Entry || e.Kind == hfsm.Exit {
			return hfsm.Ok, nil
		}
		return hfsm.HandledBySuperState, nil
	}
	require.NoError(t, declining.Machine().Init(root, func(hfsm.Handler) hfsm.Handler { return nil }))
	pl := pipeline.New(nil, declining)

	require.NoError(t, pipeline.SyncProcessLoop(pl))
}
