package calls

import (
	"testing"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    types.CallState
		event   Event
		to      types.CallState
		effects []Effect
	}{
		{
			name:    "incoming starts alerting",
			from:    stateIdle,
			event:   EventIncoming,
			to:      types.StateRingingIncoming,
			effects: []Effect{EffectStartAlert},
		},
		{
			name:  "outgoing rings out",
			from:  stateIdle,
			event: EventOutgoing,
			to:    types.StateRingingOutgoing,
		},
		{
			name:    "answer",
			from:    types.StateRingingIncoming,
			event:   EventAnswered,
			to:      types.StateActive,
			effects: []Effect{EffectStopAlert, EffectStampAccepted, EffectStartTimer, EffectPresenceOnCall},
		},
		{
			name:    "far end answers",
			from:    types.StateRingingOutgoing,
			event:   EventRemoteAnswered,
			to:      types.StateActive,
			effects: []Effect{EffectStampAccepted, EffectStartTimer, EffectPresenceOnCall},
		},
		{
			name:    "hold pauses the timer",
			from:    types.StateActive,
			event:   EventHeld,
			to:      types.StateHeld,
			effects: []Effect{EffectStopTimer, EffectMediaHold},
		},
		{
			name:    "resume",
			from:    types.StateHeld,
			event:   EventResumed,
			to:      types.StateActive,
			effects: []Effect{EffectStartTimer, EffectMediaResume},
		},
		{
			name:    "decline ringing call",
			from:    types.StateRingingIncoming,
			event:   EventLocalHangup,
			to:      types.StateEnded,
			effects: []Effect{EffectSendReject, EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
		{
			name:    "cancel outgoing",
			from:    types.StateRingingOutgoing,
			event:   EventLocalHangup,
			to:      types.StateEnded,
			effects: []Effect{EffectCancelDial, EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
		{
			name:    "hang up held call",
			from:    types.StateHeld,
			event:   EventLocalHangup,
			to:      types.StateEnded,
			effects: []Effect{EffectSendBye, EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
		{
			name:    "remote hangup only cleans up",
			from:    types.StateActive,
			event:   EventRemoteHangup,
			to:      types.StateEnded,
			effects: []Effect{EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
		{
			name:    "end all on active call",
			from:    types.StateActive,
			event:   EventEndAll,
			to:      types.StateEnded,
			effects: []Effect{EffectSendBye, EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
		{
			name:    "dial failure",
			from:    types.StateRingingOutgoing,
			event:   EventDialFailed,
			to:      types.StateEnded,
			effects: []Effect{EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, effects, err := Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
			if len(tt.effects) == 0 {
				assert.Empty(t, effects)
			} else {
				assert.Equal(t, tt.effects, effects)
			}
		})
	}
}

func TestTransitionTerminalEventsOnEndedAreNoOps(t *testing.T) {
	for _, ev := range []Event{EventLocalHangup, EventFailed, EventRemoteHangup, EventDialFailed, EventEndAll} {
		to, effects, err := Transition(types.StateEnded, ev)
		require.NoError(t, err, ev)
		assert.Equal(t, types.StateEnded, to)
		assert.Empty(t, effects)
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	tests := []struct {
		from  types.CallState
		event Event
	}{
		{types.StateEnded, EventAnswered},
		{types.StateEnded, EventHeld},
		{types.StateActive, EventAnswered},
		{types.StateRingingIncoming, EventHeld},
		{types.StateRingingOutgoing, EventHeld},
		{types.StateHeld, EventHeld},
		{types.StateActive, EventResumed},
		{types.StateActive, EventDialFailed},
		{types.StateRingingIncoming, EventRemoteAnswered},
		{types.StateActive, EventIncoming},
	}
	for _, tt := range tests {
		to, _, err := Transition(tt.from, tt.event)
		assert.ErrorIs(t, err, types.ErrInvalidState, "%s on %s", tt.event, tt.from)
		assert.Equal(t, tt.from, to)
	}
}

func TestTransitionEffectsAreCopies(t *testing.T) {
	_, effects, err := Transition(types.StateActive, EventLocalHangup)
	require.NoError(t, err)
	effects[0] = EffectStartAlert

	_, again, err := Transition(types.StateActive, EventLocalHangup)
	require.NoError(t, err)
	assert.Equal(t, EffectSendBye, again[0])
}

func TestDialFailureCause(t *testing.T) {
	tests := []struct {
		code int
		want types.EndCause
	}{
		{486, types.CauseBusy},
		{600, types.CauseBusy},
		{404, types.CauseUnavailable},
		{480, types.CauseUnavailable},
		{603, types.CauseRejected},
		{408, types.CauseNoAnswer},
		{487, types.CauseNoAnswer},
		{500, types.CauseFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dialFailureCause(statusError(tt.code)), "code %d", tt.code)
	}
}
