package queue

// State describes what the consumer is currently doing
type State int32

const (
	// Idle is the state between two polls
	Idle State = iota
	// Polling waits for the queue to return a message
	Polling
	// Processing runs a received job
	Processing
	// Stopped is reached once Run returned
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
