package lightsync

// State is a synchronizer lifecycle stage
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateValidating
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
