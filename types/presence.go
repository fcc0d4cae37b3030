package types

type PresenceStatus string

const (
	PresenceAvailable    PresenceStatus = "available"
	PresencePaused       PresenceStatus = "paused"
	PresenceOnCall       PresenceStatus = "on_call"
	PresenceDoNotDisturb PresenceStatus = "do_not_disturb"
	PresenceUnavailable  PresenceStatus = "unavailable"
)

// Valid reports whether s is one of the known statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceAvailable, PresencePaused, PresenceOnCall, PresenceDoNotDisturb, PresenceUnavailable:
		return true
	}
	return false
}

// BlocksRegistration reports whether the status keeps the agent unregistered.
func (s PresenceStatus) BlocksRegistration() bool {
	return s == PresencePaused || s == PresenceDoNotDisturb || s == PresenceUnavailable
}

// RejectsInbound reports whether new inbound calls are refused at creation.
func (s PresenceStatus) RejectsInbound() bool {
	return s == PresencePaused || s == PresenceDoNotDisturb
}

type AgentPresence struct {
	Status      PresenceStatus `json:"status"`
	PauseReason string         `json:"pause_reason,omitempty"`
}
