package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/pipeline"
)

// counterPolicy builds a single-root-state policy that counts Entry/Exit
// and arbitrary event kinds by name, and can be told to fail on a specific
// kind (to exercise error conversion).
type counterPolicy struct {
	*pipeline.Policy
	entries, exits int
	counts         map[hfsm.Kind]int
	failOn         map[hfsm.Kind]bool
	onSynthesize   func(p *counterPolicy, e hfsm.Event)
}

func newCounterPolicy(name string) *counterPolicy {
	cp := &counterPolicy{
		Policy: pipeline.NewPolicy(name),
		counts: map[hfsm.Kind]int{},
		failOn: map[hfsm.Kind]bool{},
	}
	root := func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
		switch e.Kind {
		case hfsm.Entry:
			cp.entries++
			return hfsm.Ok, nil
		case hfsm.Exit:
			cp.exits++
			return hfsm.Ok, nil
		default:
			cp.counts[e.Kind]++
			if cp.onSynthesize != nil {
				cp.onSynthesize(cp, e)
			}
			if cp.failOn[e.Kind] {
				return hfsm.Ok, assertError{}
			}
			return hfsm.Ok, nil
		}
	}
	noParent := func(hfsm.Handler) hfsm.Handler { return nil }
	if err := cp.Machine().Init(root, noParent); err != nil {
		panic(err)
	}
	return cp
}

type assertError struct{}

func (assertError) Error() string { return "injected test failure" }

func userKind(n uint32) hfsm.Kind { return hfsm.MakeKind(hfsm.FacilityUser, n) }

func buildChain() (outbound, middle, inbound *counterPolicy, pl *pipeline.Pipeline) {
	outbound = newCounterPolicy("outbound")
	middle = newCounterPolicy("middle")
	inbound = newCounterPolicy("inbound")
	pl = pipeline.New(nil, outbound.Policy, middle.Policy, inbound.Policy)
	return
}

// Scenario 1: three-policy init.
func TestScenario1_ThreePolicyInit(t *testing.T) {
	outbound, middle, inbound, _ := buildChain()
	require.Equal(t, 1, outbound.entries)
	require.Equal(t, 1, middle.entries)
	require.Equal(t, 1, inbound.entries)
	require.Equal(t, 0, outbound.exits)
	require.Equal(t, 0, middle.exits)
	require.Equal(t, 0, inbound.exits)
}

// Scenario 2: post_outbound delivery reaches only the inbound endpoint.
func TestScenario2_PostOutboundDelivery(t *testing.T) {
	outbound, middle, inbound, pl := buildChain()
	k := userKind(100)
	require.NoError(t, pl.PostOutbound(hfsm.Event{Kind: k}))
	require.Equal(t, 1, inbound.counts[k])
	require.Equal(t, 0, outbound.counts[k])
	require.Equal(t, 0, middle.counts[k])
}

// Scenario 3: post_inbound delivery reaches only the outbound endpoint.
func TestScenario3_PostInboundDelivery(t *testing.T) {
	outbound, middle, inbound, pl := buildChain()
	k := userKind(101)
	require.NoError(t, pl.PostInbound(hfsm.Event{Kind: k}))
	require.Equal(t, 1, outbound.counts[k])
	require.Equal(t, 0, middle.counts[k])
	require.Equal(t, 0, inbound.counts[k])
}

// Scenario 4: send chaining — outbound's handler for kind0 synthesizes
// SendInbound(kind1), which must reach middle before PostInbound returns.
func TestScenario4_SendChaining(t *testing.T) {
	outbound, middle, _, pl := buildChain()
	k0, k1 := userKind(200), userKind(201)
	outbound.onSynthesize = func(p *counterPolicy, e hfsm.Event) {
		if e.Kind == k0 {
			require.NoError(t, p.SendInbound(hfsm.Event{Kind: k1}))
		}
	}
	require.NoError(t, pl.PostInbound(hfsm.Event{Kind: k0}))
	require.Equal(t, 1, outbound.counts[k0])
	require.Equal(t, 1, middle.counts[k1])
}

// Scenario 5: error conversion — outbound synthesizes SendInbound(k3) to
// middle; middle's handler for k3 fails. dispatchLocked converts the
// failure into an Error event and redelivers it directly to middle — the
// policy whose handler actually failed, not outbound, which merely issued
// the synthesized send. middle's own handler observes and absorbs the
// Error, so the top-level PostInbound call reports success.
func TestScenario5_ErrorConversion(t *testing.T) {
	outbound, middle, _, pl := buildChain()
	k2, k3 := userKind(300), userKind(301)
	middle.failOn[k3] = true

	var sendErr error
	outbound.onSynthesize = func(p *counterPolicy, e hfsm.Event) {
		if e.Kind == k2 {
			sendErr = p.SendInbound(hfsm.Event{Kind: k3})
		}
	}

	require.NoError(t, pl.PostInbound(hfsm.Event{Kind: k2}))
	require.NoError(t, sendErr, "middle's own Error handler absorbs the failure, so outbound's SendInbound must succeed")
	require.Equal(t, 1, outbound.counts[k2])
	require.Equal(t, 1, middle.counts[k3], "middle's k3 handler runs exactly once; it is not retried")
	require.Equal(t, 1, middle.counts[hfsm.Error], "the Error event is redelivered to middle itself")
	require.Equal(t, 0, outbound.counts[hfsm.Error], "outbound never issued k3 directly and must not observe the Error")
}

// Scenario 6 (timer) lives in pipelinetimer_test.go, which depends on this
// package; see pipelinetimer/timer_test.go.

// Testable property 3: a root handler declining an event causes Send (and
// therefore the top-level Post) to fail with "unhandled", without a crash.
func TestRootUnhandledNoCrash(t *testing.T) {
	declining := pipeline.NewPolicy("declining")
	root := func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
		if e.Kind == hfsm.Entry || e.Kind == hfsm.Exit {
			return hfsm.Ok, nil
		}
		return hfsm.HandledBySuperState, nil
	}
	require.NoError(t, declining.Machine().Init(root, func(hfsm.Handler) hfsm.Handler { return nil }))
	pl := pipeline.New(nil, declining)

	err := pl.PostInbound(hfsm.Event{Kind: hfsm.ProcessLoop})
	require.Error(t, err)
}
