package calls

import (
	"fmt"

	"github.com/Reverse-Call-Center/agent-phone/types"
)

// stateIdle is the virtual state before a session exists.
const stateIdle types.CallState = ""

type Event string

const (
	EventIncoming       Event = "incoming"
	EventOutgoing       Event = "outgoing"
	EventAnswered       Event = "answered"
	EventRemoteAnswered Event = "remote_answered"
	EventHeld           Event = "held"
	EventResumed        Event = "resumed"
	EventLocalHangup    Event = "local_hangup"
	EventFailed         Event = "failed"
	EventRemoteHangup   Event = "remote_hangup"
	EventDialFailed     Event = "dial_failed"
	EventEndAll         Event = "end_all"
)

// terminal events drive any live session to ended and are no-ops once ended.
var terminalEvents = map[Event]bool{
	EventLocalHangup:  true,
	EventFailed:       true,
	EventRemoteHangup: true,
	EventDialFailed:   true,
	EventEndAll:       true,
}

func (e Event) Terminal() bool { return terminalEvents[e] }

type Effect int

const (
	EffectStartAlert Effect = iota
	EffectStopAlert
	EffectStampAccepted
	EffectStartTimer
	EffectStopTimer
	EffectPresenceOnCall
	EffectMediaHold
	EffectMediaResume
	EffectSendReject
	EffectCancelDial
	EffectSendBye
	EffectReleaseMedia
	EffectReleaseSlot
)

var effectNames = map[Effect]string{
	EffectStartAlert:     "start_alert",
	EffectStopAlert:      "stop_alert",
	EffectStampAccepted:  "stamp_accepted",
	EffectStartTimer:     "start_timer",
	EffectStopTimer:      "stop_timer",
	EffectPresenceOnCall: "presence_on_call",
	EffectMediaHold:      "media_hold",
	EffectMediaResume:    "media_resume",
	EffectSendReject:     "send_reject",
	EffectCancelDial:     "cancel_dial",
	EffectSendBye:        "send_bye",
	EffectReleaseMedia:   "release_media",
	EffectReleaseSlot:    "release_slot",
}

func (e Effect) String() string {
	if name, ok := effectNames[e]; ok {
		return name
	}
	return fmt.Sprintf("effect(%d)", int(e))
}

type transitionKey struct {
	from  types.CallState
	event Event
}

type transition struct {
	to      types.CallState
	effects []Effect
}

var cleanup = []Effect{EffectStopTimer, EffectStopAlert, EffectReleaseMedia, EffectReleaseSlot}

func endWith(signal ...Effect) transition {
	return transition{to: types.StateEnded, effects: append(signal, cleanup...)}
}

var table = map[transitionKey]transition{
	{stateIdle, EventIncoming}: {types.StateRingingIncoming, []Effect{EffectStartAlert}},
	{stateIdle, EventOutgoing}: {types.StateRingingOutgoing, nil},

	{types.StateRingingIncoming, EventAnswered}: {types.StateActive, []Effect{
		EffectStopAlert, EffectStampAccepted, EffectStartTimer, EffectPresenceOnCall,
	}},
	{types.StateRingingOutgoing, EventRemoteAnswered}: {types.StateActive, []Effect{
		EffectStampAccepted, EffectStartTimer, EffectPresenceOnCall,
	}},

	{types.StateActive, EventHeld}:  {types.StateHeld, []Effect{EffectStopTimer, EffectMediaHold}},
	{types.StateHeld, EventResumed}: {types.StateActive, []Effect{EffectStartTimer, EffectMediaResume}},

	{types.StateRingingIncoming, EventLocalHangup}: endWith(EffectSendReject),
	{types.StateRingingOutgoing, EventLocalHangup}: endWith(EffectCancelDial),
	{types.StateActive, EventLocalHangup}:          endWith(EffectSendBye),
	{types.StateHeld, EventLocalHangup}:            endWith(EffectSendBye),

	{types.StateRingingIncoming, EventFailed}: endWith(EffectSendReject),
	{types.StateRingingOutgoing, EventFailed}: endWith(EffectCancelDial),
	{types.StateActive, EventFailed}:          endWith(EffectSendBye),
	{types.StateHeld, EventFailed}:            endWith(EffectSendBye),

	{types.StateRingingIncoming, EventEndAll}: endWith(EffectSendReject),
	{types.StateRingingOutgoing, EventEndAll}: endWith(EffectCancelDial),
	{types.StateActive, EventEndAll}:          endWith(EffectSendBye),
	{types.StateHeld, EventEndAll}:            endWith(EffectSendBye),

	{types.StateRingingIncoming, EventRemoteHangup}: endWith(),
	{types.StateRingingOutgoing, EventRemoteHangup}: endWith(),
	{types.StateActive, EventRemoteHangup}:          endWith(),
	{types.StateHeld, EventRemoteHangup}:            endWith(),

	{types.StateRingingOutgoing, EventDialFailed}: endWith(),
}

// Transition returns the state reached from `from` on ev and the side
// effects to run, in order. A terminal event on an ended session is a
// no-op; anything else not in the table is ErrInvalidState.
func Transition(from types.CallState, ev Event) (types.CallState, []Effect, error) {
	if from == types.StateEnded && ev.Terminal() {
		return types.StateEnded, nil, nil
	}
	t, ok := table[transitionKey{from, ev}]
	if !ok {
		return from, nil, fmt.Errorf("%w: %s on %q", types.ErrInvalidState, ev, from)
	}
	effects := make([]Effect, len(t.effects))
	copy(effects, t.effects)
	return t.to, effects, nil
}
