package types

type TransportStatus string

const (
	TransportDisconnected TransportStatus = "disconnected"
	TransportConnecting   TransportStatus = "connecting"
	TransportConnected    TransportStatus = "connected"
)

type RegistrationStatus string

const (
	RegistrationUnregistered RegistrationStatus = "unregistered"
	RegistrationRegistering  RegistrationStatus = "registering"
	RegistrationRegistered   RegistrationStatus = "registered"
	RegistrationFailed       RegistrationStatus = "registration_failed"
)

// ConnectionState describes the signaling connection to the routing server.
// RegistrationStatus is only ever RegistrationRegistered while TransportStatus
// is TransportConnected.
type ConnectionState struct {
	TransportStatus      TransportStatus    `json:"transport_status"`
	RegistrationStatus   RegistrationStatus `json:"registration_status"`
	LastError            string             `json:"last_error,omitempty"`
	ReconnectAttempt     int                `json:"reconnect_attempt"`
	MaxReconnectAttempts int                `json:"max_reconnect_attempts"`

	// Reconnecting is the advisory flag shown while a retry timer is pending.
	Reconnecting bool `json:"reconnecting"`
	// Fatal is set when no further automatic attempt will be made.
	Fatal bool `json:"fatal"`
}

// InitialConnectionState returns the state used at start-up and after every reset.
func InitialConnectionState(maxAttempts int) ConnectionState {
	return ConnectionState{
		TransportStatus:      TransportDisconnected,
		RegistrationStatus:   RegistrationUnregistered,
		MaxReconnectAttempts: maxAttempts,
	}
}

func (c ConnectionState) Registered() bool {
	return c.RegistrationStatus == RegistrationRegistered && c.TransportStatus == TransportConnected
}

// Credentials identify the agent towards the routing server.
type Credentials struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

func (c Credentials) Empty() bool {
	return c.Identity == ""
}
