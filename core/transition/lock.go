package transition

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrTransitionInProgress = errors.New("a transition is already running for this class")

// Locker hands out processing tokens so that a class is never transitioned twice at the same time.
type Locker interface {
	// Acquire returns ErrTransitionInProgress when key is already held.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func lockKey(schoolID, classID string) string {
	return "transition:" + schoolID + ":" + classID
}

// LocalLocker only guards the current process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, ErrTransitionInProgress
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
