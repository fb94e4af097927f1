package chat

// State is the phase of the current turn.
type State int

const (
	Idle State = iota
	// Sending: user message appended, waiting for the first chunk.
	Sending
	// Streaming: the trailing assistant message is growing.
	Streaming
	// Settled: the stream ended normally.
	Settled
	// Failed: the stream ended with a transport error.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Settled:
		return "settled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// InFlight reports whether a send is in progress.
func (s State) InFlight() bool {
	return s == Sending || s == Streaming
}
