package core

// ConnectionState is the lifecycle state of the broker connections.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DispatchState is the lifecycle state of the Router's consume loop.
type DispatchState int32

const (
	DispatchNotStarted DispatchState = iota
	DispatchSubscribing
	DispatchRunning
	DispatchStopped
)

func (s DispatchState) String() string {
	switch s {
	case DispatchNotStarted:
		return "not-started"
	case DispatchSubscribing:
		return "subscribing"
	case DispatchRunning:
		return "running"
	case DispatchStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
