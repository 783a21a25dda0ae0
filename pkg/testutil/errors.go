package testutil

// TestError implements error interface for testing purposes
type TestError struct {
	message string
}

func (e *TestError) Error() string {
	return e.message
}

// NewTestError creates a new test error with the given message
func NewTestError(message string) error {
	return &TestError{message: message}
}

// ErrConnectionRefused stands in for a dial failure from any client.
var ErrConnectionRefused = NewTestError("dial tcp 127.0.0.1:5432: connect: connection refused")
