package abstract

import "go.ytsaurus.tech/library/go/core/xerrors"

// FatalError wraps an error that must stop the run instead of being retried:
// config rejected, journal flush failed, retries exhausted.
type FatalError struct {
	error
}

func (f FatalError) Unwrap() error {
	return f.error
}

func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{error: err}
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return xerrors.As(err, &fatal)
}
