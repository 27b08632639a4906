// Package pacer keeps a streaming loop at an approximately constant emission
// rate regardless of how long each cycle's work takes.
//
// Each cycle records its start time, does its work, then waits for whatever
// is left of the period: max(0, T - work). A cycle that overruns waits zero;
// the loop never tries to catch up, so a slow producer lowers throughput
// instead of building a backlog.
package pacer

import (
	"context"
	"time"

	"github.com/banshee-data/pointcloud-server/internal/timeutil"
)

// DefaultRateHz is used when the rate source reports a non-positive value.
const DefaultRateHz = 50

// RateFunc returns the target emission rate in Hz. It is read at every
// cycle so rate changes apply to running loops.
type RateFunc func() int

// Period returns the target cycle period for hz.
func Period(hz int) time.Duration {
	if hz <= 0 {
		hz = DefaultRateHz
	}
	return time.Second / time.Duration(hz)
}

// Stats summarises a pacer's history.
type Stats struct {
	Cycles   uint64
	Overruns uint64
	LastWork time.Duration
	LastWait time.Duration
}

// Pacer times one loop. It is owned by a single goroutine and is not safe
// for concurrent use; every stream connection gets its own.
type Pacer struct {
	clock timeutil.Clock
	rate  RateFunc
	start time.Time
	stats Stats
}

// New returns a Pacer using clock and rate. A nil clock means the real clock.
func New(clock timeutil.Clock, rate RateFunc) *Pacer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if rate == nil {
		rate = func() int { return DefaultRateHz }
	}
	return &Pacer{clock: clock, rate: rate}
}

// Begin marks the start of a cycle's work.
func (p *Pacer) Begin() {
	p.start = p.clock.Now()
}

// Wait blocks for the remainder of the current period. It returns false
// without waiting out the period if ctx is done or stop is closed.
func (p *Pacer) Wait(ctx context.Context, stop <-chan struct{}) bool {
	work := p.clock.Since(p.start)
	sleep := Period(p.rate()) - work
	if sleep < 0 {
		sleep = 0
	}

	p.stats.Cycles++
	p.stats.LastWork = work
	p.stats.LastWait = sleep

	if sleep == 0 {
		p.stats.Overruns++
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
			return true
		}
	}

	timer := p.clock.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

// Run calls cycle once per period until cycle returns false, ctx is done or
// stop is closed.
func (p *Pacer) Run(ctx context.Context, stop <-chan struct{}, cycle func() bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if !p.Cycle(ctx, stop, cycle) {
			return
		}
	}
}

// Cycle runs one begin/work/wait unit. It returns false when work returns
// false or the wait was cut short by ctx or stop.
func (p *Pacer) Cycle(ctx context.Context, stop <-chan struct{}, work func() bool) bool {
	p.Begin()
	if !work() {
		return false
	}
	return p.Wait(ctx, stop)
}

// Stats returns the pacer's counters.
func (p *Pacer) Stats() Stats {
	return p.stats
}
