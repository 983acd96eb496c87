package backup

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/majorcontext/strata/internal/engine"
)

var errLocalWriter = errors.New("another strata process is writing to this repository")

// withWriteLock runs fn holding the repository's cross-process write lock.
// Contention is reported as engine.LockHeldError without waiting, the
// same way restic reports its own lock.
func (o *Orchestrator) withWriteLock(op string, fn func() error) error {
	if o.lockPath == "" {
		return fn()
	}
	lk := flock.New(o.lockPath)
	ok, err := lk.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring write lock: %w", err)
	}
	if !ok {
		return &engine.LockHeldError{Op: op, Err: errLocalWriter}
	}
	defer lk.Unlock()
	return fn()
}
