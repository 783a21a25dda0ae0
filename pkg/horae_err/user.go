// pkg/horae_err/user.go

package horae_err

import (
	"context"
	"errors"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// UserError is an expected, user-fixable condition. It is printed but does
// not fail the process.
type UserError struct {
	cause error
}

func (e *UserError) Error() string { return e.cause.Error() }
func (e *UserError) Unwrap() error { return e.cause }

// NewExpectedError marks err as expected and logs it at warn level.
func NewExpectedError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	otelzap.Ctx(ctx).Warn("Expected user error", zap.Error(err))
	return &UserError{cause: err}
}

// IsExpectedUserError reports whether err was marked with NewExpectedError.
func IsExpectedUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return cerr.WithHint(cerr.WithStack(err), "configuration validation failed")
}
