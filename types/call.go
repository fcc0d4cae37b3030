package types

import "time"

type CallState string

const (
	StateRingingIncoming CallState = "ringing_incoming"
	StateRingingOutgoing CallState = "ringing_outgoing"
	StateActive          CallState = "active"
	StateHeld            CallState = "held"
	StateEnded           CallState = "ended"
)

// IsTerminal reports whether no further transitions are possible.
func (s CallState) IsTerminal() bool {
	return s == StateEnded
}

// IsLive reports whether the state occupies the single active-call slot.
func (s CallState) IsLive() bool {
	return s == StateRingingOutgoing || s == StateActive || s == StateHeld
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// EndCause records why a session reached StateEnded.
type EndCause string

const (
	CauseNone               EndCause = ""
	CauseLocalHangup        EndCause = "local_hangup"
	CauseRemoteHangup       EndCause = "remote_hangup"
	CauseRejected           EndCause = "rejected"
	CauseNoAnswer           EndCause = "no_answer"
	CauseFailed             EndCause = "failed"
	CauseBusy               EndCause = "busy"
	CauseUnavailable        EndCause = "unavailable"
	CauseTransferred        EndCause = "transferred"
	CauseCredentialsChanged EndCause = "credentials_changed"
)

type TransferStatus string

const (
	TransferNone      TransferStatus = ""
	TransferRequested TransferStatus = "requested"
	TransferAccepted  TransferStatus = "accepted"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// CallSession is a point-in-time copy of one call. The owning state machine
// hands these out; mutating a copy has no effect on the call.
type CallSession struct {
	ID             string         `json:"id"`
	Direction      Direction      `json:"direction"`
	RemoteIdentity string         `json:"remote_identity"`
	State          CallState      `json:"state"`
	StartedAt      time.Time      `json:"started_at"`
	AcceptedAt     *time.Time     `json:"accepted_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Held           bool           `json:"held"`
	Muted          bool           `json:"muted"`
	ElapsedSeconds int64          `json:"elapsed_seconds"`
	EndCause       EndCause       `json:"end_cause,omitempty"`
	EndDetail      string         `json:"end_detail,omitempty"`
	TransferTarget string         `json:"transfer_target,omitempty"`
	TransferStatus TransferStatus `json:"transfer_status,omitempty"`
	TransferError  string         `json:"transfer_error,omitempty"`
	Connectivity   Connectivity   `json:"connectivity"`
}
