package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/errs"
)

const lockFileName = ".lock"

// acquireLock creates root's lock file holding this process's PID, so
// a LockBusy error can name the offending process.
func acquireLock(root string) (*os.File, error) {
	path := filepath.Join(root, lockFileName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			owner := readLockOwner(path)

			return nil, errors.Wrapf(errs.ErrLockBusy, "owning pid %s", owner)
		}

		return nil, errors.Wrap(err, "engine: create lock file")
	}

	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)

		return nil, errors.Wrap(err, "engine: write lock file")
	}

	return f, nil
}

func readLockOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}

	return strings.TrimSpace(string(data))
}

func releaseLock(f *os.File, root string) {
	if f == nil {
		return
	}

	f.Close()
	os.Remove(filepath.Join(root, lockFileName))
}
