package engine

import "time"

// Clock supplies the current time. Injected so the gate and the scheduler can
// be exercised against a fixed instant in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (f FixedClock) Now() time.Time { return f.T }
