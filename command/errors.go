package command

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/sumi-social/sumid/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(core.ErrorInternal)
}
