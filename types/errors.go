package types

import "errors"

var (
	ErrNotRegistered          = errors.New("not registered")
	ErrBusy                   = errors.New("busy: another call is in progress")
	ErrInvalidState           = errors.New("operation not valid in current call state")
	ErrCaptureUnavailable     = errors.New("audio capture unavailable")
	ErrUnsupported            = errors.New("operation not supported by the remote party")
	ErrAuthRejected           = errors.New("credentials rejected by server")
	ErrReconnectExhausted     = errors.New("giving up: reconnect attempts exhausted")
	ErrNoCredentials          = errors.New("no credentials")
	ErrOnCallReserved         = errors.New("on_call is set by the system and cannot be chosen")
	ErrPauseReasonRequired    = errors.New("a pause reason is required")
	ErrUnknownStatus          = errors.New("unknown presence status")
	ErrSessionNotFound        = errors.New("call session not found")
	ErrTemporarilyUnavailable = errors.New("agent temporarily unavailable")
)
