package types

type Connectivity string

const (
	ConnectivityNone        Connectivity = "none"
	ConnectivityNegotiating Connectivity = "negotiating"
	ConnectivityConnected   Connectivity = "connected"
	ConnectivityFailed      Connectivity = "failed"
)

// MediaPipelineState is bound to one live call session.
type MediaPipelineState struct {
	SessionID    string       `json:"session_id"`
	Connectivity Connectivity `json:"connectivity"`
}
