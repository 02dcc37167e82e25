// Package lock keeps two runs from working on the same configuration at
// once.
package lock

import (
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
)

type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock file at path without waiting. It fails with
// ErrLocked when another process holds it.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "locking %s", path)
	}
	if !ok {
		return nil, errors.Wrap(moverrors.ErrLocked, path)
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks; the lock file itself is left in place.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
