package chat

// State is the lifecycle position of one exchange.
type State int

const (
	StateIdle State = iota
	StateHistoryLoaded
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateHistoryLoaded: "history_loaded",
	StateStreaming:     "streaming",
	StateCompleted:     "completed",
	StateCancelled:     "cancelled",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
