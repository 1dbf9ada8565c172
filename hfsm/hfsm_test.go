package hfsm_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodalcore/mqttpipe/hfsm"
	"github.com/nodalcore/mqttpipe/mqtterr"
)

// Small three-level tree used across tests:
//
//	root
//	 └── parent
//	      └── child
type counters struct {
	entries, exits map[string]int
}

func newCounters() *counters {
	return &counters{entries: map[string]int{}, exits: map[string]int{}}
}

func (c *counters) state(name string) hfsm.Handler {
	return func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) {
		switch e.Kind {
		case hfsm.Entry:
			c.entries[name]++
			return hfsm.Ok, nil
		case hfsm.Exit:
			c.exits[name]++
			return hfsm.Ok, nil
		}
		return hfsm.HandledBySuperState, nil
	}
}

func funcID(h hfsm.Handler) uintptr { return reflect.ValueOf(h).Pointer() }

func buildTree(c *counters) (root, parent, child hfsm.Handler, lookup hfsm.ParentLookup) {
	// Each state gets its own function literal: hfsm tells states apart by
	// code pointer, and closures made from one literal share theirs.
	root = func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) { return c.state("root")(m, e) }
	parent = func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) { return c.state("parent")(m, e) }
	child = func(m *hfsm.Machine, e hfsm.Event) (hfsm.Result, error) { return c.state("child")(m, e) }
	rootID, parentID, childID := funcID(root), funcID(parent), funcID(child)
	lookup = func(h hfsm.Handler) hfsm.Handler {
		switch funcID(h) {
		case childID:
			return parent
		case parentID:
			return root
		case rootID:
			return nil
		default:
			return nil
		}
	}
	return
}

func TestInitDispatchesEntry(t *testing.T) {
	c := newCounters()
	root, _, _, lookup := buildTree(c)
	m := hfsm.New("m")
	require.NoError(t, m.Init(root, lookup))
	require.Equal(t, 1, c.entries["root"])
}

func TestRootUnhandledFails(t *testing.T) {
	c := newCounters()
	root, _, _, lookup := buildTree(c)
	m := hfsm.New("m")
	require.NoError(t, m.Init(root, lookup))

	custom := hfsm.MakeKind(hfsm.FacilityUser, 42)
	err := m.Send(hfsm.Event{Kind: custom})
	require.Error(t, err)
	require.True(t, mqtterr.IsUnhandled(err))
}

func TestSendBubblesToRootAndFailsUnhandled(t *testing.T) {
	c := newCounters()
	root, _, child, lookup := buildTree(c)
	m := hfsm.New("m")
	require.NoError(t, m.Init(root, lookup))
	require.NoError(t, m.Transition(root, child))

	// child's handler declines every non Entry/Exit event, so this should
	// bubble: child -> parent -> root, and root also declines -> unhandled.
	custom := hfsm.MakeKind(hfsm.FacilityUser, 7)
	err := m.Send(hfsm.Event{Kind: custom})
	require.Error(t, err)
	require.True(t, mqtterr.IsUnhandled(err))
}

func TestTransitionEntryExitBalance(t *testing.T) {
	c := newCounters()
	root, _, child, lookup := buildTree(c)
	m := hfsm.New("m")
	require.NoError(t, m.Init(root, lookup))
	require.NoError(t, m.Transition(root, child))

	require.Equal(t, 1, c.entries["root"])
	require.Equal(t, 1, c.entries["parent"])
	require.Equal(t, 1, c.entries["child"])
	require.Equal(t, 0, c.exits["root"])

	require.NoError(t, m.Transition(child, root))
	require.Equal(t, 1, c.exits["child"])
	require.Equal(t, 1, c.exits["parent"])
	require.Equal(t, 0, c.exits["root"])
}

func TestTransitionRejectsUnrelatedSource(t *testing.T) {
	c := newCounters()
	root, _, child, lookup := buildTree(c)
	m := hfsm.New("m")
	require.NoError(t, m.Init(root, lookup))

	other := c.state("other")
	err := m.Transition(other, child)
	require.Error(t, err)
	require.True(t, errors.Is(err, mqtterr.ErrNoSuchSuperState))
}
