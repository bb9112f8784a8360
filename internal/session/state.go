package session

// State is the lifecycle state of a peer session.
type State int

const (
	// Disconnected is the initial state, and the state reached after a
	// closed transport schedules (or exhausts) reconnection.
	Disconnected State = iota
	// Connecting is entered while the WebSocket transport is being dialed.
	Connecting
	// Authenticating is entered once the transport is open, before the auth
	// handshake is sent, and lasts while the peer's RESPONSE/ERROR is awaited.
	Authenticating
	// Connected is entered once the auth handshake succeeds; send_packet
	// is only available in this state.
	Connected
	// Closing is entered on explicit Disconnect, before the terminal Dead
	// state.
	Closing
	// Dead is terminal: entered only after an explicit Disconnect call.
	// Connect must not be called again once a session reaches Dead.
	Dead
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}
