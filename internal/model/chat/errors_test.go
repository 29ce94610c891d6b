package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonHidesWrappedDetail(t *testing.T) {
	err := fmt.Errorf("%w: ark stream: %w", ErrProvider, errors.New("401 bad key sk-123"))
	assert.Equal(t, "ai provider failed", Reason(err))
	assert.Equal(t, "chat not found", Reason(ErrNotFound))
	assert.Equal(t, "internal error", Reason(errors.New("boom")))
}
