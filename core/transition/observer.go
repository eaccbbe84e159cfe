package transition

import "time"

// Observer is notified of engine progress; implementations must be safe for concurrent use.
type Observer interface {
	StateChanged(from, to State)
	ChunkCommitted(stage string, index, size int, elapsed time.Duration)
	ChunkFailed(stage string, index, size int, err error)
}

type NopObserver struct{}

func (NopObserver) StateChanged(State, State)                      {}
func (NopObserver) ChunkCommitted(string, int, int, time.Duration) {}
func (NopObserver) ChunkFailed(string, int, int, error)            {}
