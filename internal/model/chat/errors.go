package chat

import "errors"

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("chat not found")
	ErrEmptyMessage    = errors.New("message is required")
	ErrEmptyTranscript = errors.New("could not transcribe audio")
	ErrProvider        = errors.New("ai provider failed")
	ErrPersistence     = errors.New("chat store unavailable")
)

var publicErrors = []error{
	ErrUnauthorized,
	ErrNotFound,
	ErrEmptyMessage,
	ErrEmptyTranscript,
	ErrProvider,
	ErrPersistence,
}

// Reason returns the caller-facing text for err. Wrapped details stay internal.
func Reason(err error) string {
	for _, sentinel := range publicErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}
