package registry

import (
	"sync/atomic"
	"time"
)

// Activity records when a client last sent a set or sync command.
type Activity struct {
	last atomic.Int64
	now  func() time.Time
}

func NewActivity() *Activity {
	a := &Activity{now: time.Now}
	a.Touch()
	return a
}

// Touch marks activity now
func (a *Activity) Touch() {
	a.last.Store(a.now().UnixNano())
}

// Last returns the time of the latest activity
func (a *Activity) Last() time.Time {
	return time.Unix(0, a.last.Load())
}

// Since returns how long the session has been idle
func (a *Activity) Since() time.Duration {
	return a.now().Sub(a.Last())
}
