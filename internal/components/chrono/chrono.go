package chrono

import (
	"sync"
	"time"
)

// API is the clock every component reads the time from.
//
// note: fault injection point
type API interface {
	Now() time.Time
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl creates a clock in the given IANA timezone, an empty name means
// the local timezone.
func NewStandardImpl(timezone string) (StandardImpl, error) {
	if timezone == "" {
		return StandardImpl{location: time.Local}, nil
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mutex   sync.Mutex
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.current
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.current = f.current.Add(d)
}
