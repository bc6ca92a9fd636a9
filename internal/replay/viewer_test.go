package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceTable(t *testing.T) {
	tests := []struct {
		from    ViewerState
		mode    Mode
		to      ViewerState
		forward bool
	}{
		{StateNone, UpdatePacket, StateReceiving, false},
		{StateNone, StatePacket, StateNone, false},
		{StateNone, RealPacket, StateNone, false},
		{StateNone, HiddenPacket, StateNone, false},

		{StateReceiving, UpdatePacket, StateStateful, false},
		{StateReceiving, StatePacket, StateReceiving, true},
		{StateReceiving, RealPacket, StateStateful, true},
		{StateReceiving, HiddenPacket, StateReceiving, false},

		{StateStateful, UpdatePacket, StateStateful, false},
		{StateStateful, StatePacket, StateStateful, false},
		{StateStateful, RealPacket, StateStateful, true},
		{StateStateful, HiddenPacket, StateStateful, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.mode.String(), func(t *testing.T) {
			to, forward := Advance(tt.from, tt.mode)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.forward, forward)
		})
	}
}

// Все последовательности длины до 6: Hidden и Update не пересылаются,
// State только при Receiving, Real только при итоговом Stateful.
func TestAdvanceSequences(t *testing.T) {
	modes := []Mode{RealPacket, StatePacket, UpdatePacket, HiddenPacket}

	var walk func(state ViewerState, depth int, updates int)
	walk = func(state ViewerState, depth int, updates int) {
		if depth == 0 {
			return
		}
		for _, m := range modes {
			next, forward := Advance(state, m)
			switch m {
			case HiddenPacket, UpdatePacket:
				assert.False(t, forward)
			case StatePacket:
				assert.Equal(t, state == StateReceiving, forward)
			case RealPacket:
				assert.Equal(t, next == StateStateful, forward)
			}
			assert.GreaterOrEqual(t, next, state, "состояние не откатывается")
			if next == StateNone {
				assert.Zero(t, updates+boolInt(m == UpdatePacket), "без границы зритель остаётся в none")
			}
			walk(next, depth-1, updates+boolInt(m == UpdatePacket))
		}
	}
	walk(StateNone, 6, 0)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestResetViewers(t *testing.T) {
	hub := &fakeHub{}
	a := hub.add(1)
	b := hub.add(2)
	a.state = StateStateful
	b.state = StateReceiving

	ResetViewers(hub)
	assert.Equal(t, StateNone, a.state)
	assert.Equal(t, StateNone, b.state)

	ResetViewers(nil)
}
