package bridge

// State is the bridge loop's position in its lifecycle.
type State int32

// Loop states
const (
	StateInit State = iota
	StateUpstreamHandshake
	StateDownstreamHandshake
	StateStreaming
	StateFaulted
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUpstreamHandshake:
		return "upstream_handshake"
	case StateDownstreamHandshake:
		return "downstream_handshake"
	case StateStreaming:
		return "streaming"
	case StateFaulted:
		return "faulted"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Leg names one of the bridge's two connections.
type Leg string

// Legs
const (
	LegUpstream   Leg = "upstream"
	LegDownstream Leg = "downstream"
)

// ConnStatus is the connection state of one leg.
type ConnStatus int32

// Leg connection states
const (
	ConnDisconnected ConnStatus = iota
	ConnConnecting
	ConnAuthenticated
	ConnStreaming
)

func (c ConnStatus) String() string {
	switch c {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnAuthenticated:
		return "authenticated"
	case ConnStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}
