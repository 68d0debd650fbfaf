package domain

// ConnectionState models the realtime session lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// Status strings surfaced to the host while a session is negotiated.
const (
	StatusRequestingMicrophone = "Requesting microphone"
	StatusBuildingConnection   = "Building connection"
	StatusExchangingSDP        = "Exchanging SDP"
	StatusWaitingForChannel    = "Waiting for channel"
	StatusConfiguring          = "Connected. Configuring."
	StatusReady                = "Ready"
	StatusDisconnected         = "Disconnected"
	StatusKeyRequired          = "API key required"
)

// ErrorCode identifies where a surfaced error originated.
type ErrorCode string

const (
	ErrorCodeCapture     ErrorCode = "capture"
	ErrorCodeNegotiation ErrorCode = "negotiation"
	ErrorCodeProtocol    ErrorCode = "protocol"
	ErrorCodeCredential  ErrorCode = "credential"
)

// TransportState is the peer transport's connection signal, reduced to
// what the session machine reacts to.
type TransportState string

const (
	TransportStateConnected    TransportState = "connected"
	TransportStateDisconnected TransportState = "disconnected"
	TransportStateFailed       TransportState = "failed"
	TransportStateClosed       TransportState = "closed"
)

// Terminal reports whether the transport can no longer carry the session.
func (s TransportState) Terminal() bool {
	switch s {
	case TransportStateDisconnected, TransportStateFailed, TransportStateClosed:
		return true
	}
	return false
}

// Listener is one registration of transcript callbacks. At most one
// registration is live at a time; a new registration replaces the old.
type Listener struct {
	OnDelta func(text string)
	OnFinal func(text string)
}

// Snapshot summarizes the observable orchestrator state for hosts that
// poll instead of subscribing to callbacks.
type Snapshot struct {
	HasCredential bool            `json:"hasCredential"`
	State         ConnectionState `json:"state"`
	Listening     bool            `json:"listening"`
	Status        string          `json:"status"`
	LastError     string          `json:"lastError,omitempty"`
}
