// Package scheduler paces outgoing calls of the command-line client.
package scheduler

import (
	"errors"
	"time"
)

// Scheduler tells when the n-th call may leave, as an offset from the
// start of the run.
type Scheduler interface {
	// Next returns the send-at offset of call n. ok == false means the
	// run is over and no more calls should be made.
	Next(n int64) (at time.Duration, ok bool)
}

// Unlimited fires as fast as the connection admits.
type Unlimited struct{}

func (Unlimited) Next(int64) (time.Duration, bool) { return 0, true }

// Constant keeps a fixed call rate.
type Constant struct {
	interval time.Duration
}

func NewConstant(freq uint64) (Constant, error) {
	if freq == 0 {
		return Constant{}, errors.New("freq must be positive")
	}
	return Constant{time.Second / time.Duration(freq)}, nil
}

func (c Constant) Next(n int64) (time.Duration, bool) {
	return time.Duration(n) * c.interval, true
}

// CountLimiter stops the run after limit calls.
type CountLimiter struct {
	s     Scheduler
	limit int64
}

func NewCountLimiter(s Scheduler, limit int64) CountLimiter {
	return CountLimiter{s, limit}
}

func (cl CountLimiter) Next(n int64) (time.Duration, bool) {
	if n > cl.limit {
		return 0, false
	}
	return cl.s.Next(n)
}
