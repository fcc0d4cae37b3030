package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Reverse-Call-Center/agent-phone/softphone"
	"github.com/Reverse-Call-Center/agent-phone/types"
)

// Phone is the set of operations the UI can trigger.
type Phone interface {
	Snapshot() softphone.Snapshot
	Subscribe() (<-chan softphone.Snapshot, func())

	Call(ctx context.Context, destination string) (types.CallSession, error)
	Answer(id string) error
	HangUp(id string) error
	Hold(ctx context.Context, id string) error
	Unhold(ctx context.Context, id string) error
	Mute(id string) error
	Unmute(id string) error
	Transfer(ctx context.Context, id, target string) error
	SetStatus(status types.PresenceStatus, reason string) error
	Retry() error
}

// Command is one UI request. CallID may be empty to target the current call.
type Command struct {
	ID          string `json:"id,omitempty"`
	Action      string `json:"action"`
	CallID      string `json:"call_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Target      string `json:"target,omitempty"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Result answers a Command.
type Result struct {
	Type  string             `json:"type"`
	ID    string             `json:"id,omitempty"`
	OK    bool               `json:"ok"`
	Error string             `json:"error,omitempty"`
	Call  *types.CallSession `json:"call,omitempty"`
}

var errUnknownAction = errors.New("unknown action")

// Dispatch runs cmd against phone and reports the outcome.
func Dispatch(ctx context.Context, phone Phone, cmd Command) Result {
	call, err := execute(ctx, phone, cmd)
	result := Result{Type: "result", ID: cmd.ID, Call: call}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	return result
}

func execute(ctx context.Context, phone Phone, cmd Command) (*types.CallSession, error) {
	switch cmd.Action {
	case "call":
		call, err := phone.Call(ctx, cmd.Destination)
		if call.ID == "" {
			return nil, err
		}
		return &call, err
	case "answer":
		return nil, phone.Answer(cmd.CallID)
	case "hangup":
		return nil, phone.HangUp(cmd.CallID)
	case "hold":
		return nil, phone.Hold(ctx, cmd.CallID)
	case "unhold":
		return nil, phone.Unhold(ctx, cmd.CallID)
	case "mute":
		return nil, phone.Mute(cmd.CallID)
	case "unmute":
		return nil, phone.Unmute(cmd.CallID)
	case "transfer":
		return nil, phone.Transfer(ctx, cmd.CallID, cmd.Target)
	case "set_status":
		return nil, phone.SetStatus(types.PresenceStatus(cmd.Status), cmd.Reason)
	case "retry":
		return nil, phone.Retry()
	}
	return nil, fmt.Errorf("%w %q", errUnknownAction, cmd.Action)
}

// statusCode maps an operation error onto an HTTP status.
func statusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBusy), errors.Is(err, types.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotRegistered), errors.Is(err, types.ErrCaptureUnavailable),
		errors.Is(err, types.ErrTemporarilyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusBadRequest
}
