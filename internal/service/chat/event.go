package chat

// Event is one message pushed to a streaming client.
type Event struct {
	Token     string `json:"token,omitempty"`
	Title     string `json:"title,omitempty"`
	Done      bool   `json:"done,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sink delivers events to the client of one exchange. Send is never called
// concurrently. An error means the client is gone.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error {
	return f(ev)
}
