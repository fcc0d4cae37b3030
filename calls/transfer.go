package calls

import (
	"context"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/looplab/fsm"
)

// Blind transfer progress. The subscription moves independently of the
// call's own state: it can fail while the call stays active.
const (
	transferIdle      = "idle"
	transferRequested = string(types.TransferRequested)
	transferAccepted  = string(types.TransferAccepted)
	transferCompleted = string(types.TransferCompleted)
	transferFailed    = string(types.TransferFailed)
)

const (
	transferEventRequest  = "request"
	transferEventAccept   = "accept"
	transferEventComplete = "complete"
	transferEventFail     = "fail"
)

func newTransferFSM() *fsm.FSM {
	return fsm.NewFSM(
		transferIdle,
		fsm.Events{
			{Name: transferEventRequest, Src: []string{transferIdle, transferFailed}, Dst: transferRequested},
			{Name: transferEventAccept, Src: []string{transferRequested}, Dst: transferAccepted},
			{Name: transferEventComplete, Src: []string{transferRequested, transferAccepted}, Dst: transferCompleted},
			{Name: transferEventFail, Src: []string{transferRequested, transferAccepted}, Dst: transferFailed},
		}, nil,
	)
}

func transferStatus(f *fsm.FSM) types.TransferStatus {
	if f.Current() == transferIdle {
		return types.TransferNone
	}
	return types.TransferStatus(f.Current())
}

// transferEvent fires ev when the subscription allows it.
func transferEvent(f *fsm.FSM, ev string) bool {
	if !f.Can(ev) {
		return false
	}
	return f.Event(context.Background(), ev) == nil
}
