package coded

import "go.ytsaurus.tech/library/go/core/xerrors"

// CodedError carries a stable Code alongside a normal error chain.
type CodedError interface {
	error

	Code() Code
}

type codedImpl struct {
	error
	code Code
}

func Errorf(code Code, format string, a ...any) error {
	return &codedImpl{
		error: xerrors.Errorf(format, a...),
		code:  code,
	}
}

func (c *codedImpl) Unwrap() error {
	return c.error
}

func (c *codedImpl) Code() Code {
	return c.code
}
