// Package lock provides the per-instance single-writer lock used by the
// instance runner.
package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned when releasing a lock that expired or was taken
// over by another holder.
var ErrNotHeld = errors.New("lock not held")

// Release gives a lock back.
type Release func()

// Locker serializes work on a key. Lock blocks until the key is free or ctx
// is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}
