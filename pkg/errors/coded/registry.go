package coded

import (
	"fmt"
	"strings"

	"github.com/doublecloud/ferry/pkg/util"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// Code is a stable, component-defined error identifier. Each component keeps
// its own codes, the global registry exists only to dedup them: a duplicate
// registration panics at start.
type Code string

func (c Code) ID() string {
	return string(c)
}

func (c Code) Contains(err error) bool {
	var codedErr CodedError
	unwrappedErr := err
	for xerrors.As(unwrappedErr, &codedErr) {
		if codedErr.Code() == c {
			return true
		}
		unwrappedErr = xerrors.Unwrap(codedErr)
	}
	return false
}

var knownCodes = util.NewSet[Code]()

func Register(parts ...string) Code {
	code := Code(strings.Join(parts, "."))
	if knownCodes.Contains(code) {
		panic(fmt.Sprintf("code: %s already registered", code))
	}
	knownCodes.Add(code)
	return code
}

func All() []Code {
	return knownCodes.SortedSliceFunc(func(a, b Code) bool {
		return a > b
	})
}
