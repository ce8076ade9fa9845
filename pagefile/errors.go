package pagefile

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/errs"
)

func errCorruptHeader(kind string) error {
	return errors.Wrap(errs.ErrCorruption, fmt.Sprintf("pagefile: bad %s header", kind))
}
