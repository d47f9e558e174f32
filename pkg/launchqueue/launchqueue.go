// Package launchqueue implements the Launch Queue (spec section 4.5):
// per-run-spec pending launch demand and exponential backoff on launch
// failures, the matcher's sole consumer of offer-matching requests.
package launchqueue

import (
	"sort"
	"time"

	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/rs/zerolog"
)

// Request is a single run-spec's current queue state, exposed for
// observability (spec section 4.5's list() operation).
type Request struct {
	RunSpecID           pathid.Path
	Pending             int
	Delay               time.Duration
	Overdue             bool
	LastLaunchFailureAt time.Time
}

type specState struct {
	backoff spec.BackoffStrategy
	pending int
	delay   time.Duration

	nextAllowedAt       time.Time
	lastLaunchFailureAt time.Time
	sawFailureBefore    bool
	ranSinceFailure     bool
}

// Queue holds one specState per run-spec, guarded by the same
// single-owner channel-actor shape as the Tracker (spec section 5): a
// command channel owns all mutation, since the queue's state is
// disjoint from the Tracker's.
type Queue struct {
	logger zerolog.Logger
	cmdCh  chan func()
	stopCh chan struct{}

	specs map[pathid.Path]*specState
}

// NewQueue creates an empty, unstarted launch queue.
func NewQueue() *Queue {
	return &Queue{
		logger: log.WithComponent("launchqueue"),
		cmdCh:  make(chan func(), 256),
		stopCh: make(chan struct{}),
		specs:  make(map[pathid.Path]*specState),
	}
}

// Start begins the queue's consumer loop.
func (q *Queue) Start() {
	go q.run()
}

// Stop halts the queue's consumer loop.
func (q *Queue) Stop() {
	close(q.stopCh)
}

func (q *Queue) run() {
	for {
		select {
		case fn := <-q.cmdCh:
			fn()
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) call(fn func()) {
	done := make(chan struct{})
	q.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

func (q *Queue) stateFor(runSpecID pathid.Path, backoff spec.BackoffStrategy) *specState {
	st, ok := q.specs[runSpecID]
	if !ok {
		st = &specState{backoff: backoff, delay: backoff.BackoffSeconds}
		q.specs[runSpecID] = st
	}
	return st
}

// Add accumulates count pending launches for app (spec section 4.5's
// add(spec, count)).
func (q *Queue) Add(app *spec.AppSpec, count int) {
	q.call(func() {
		st := q.stateFor(app.ID(), app.Backoff)
		st.pending += count
	})
}

// ResetDelay resets a run-spec's backoff delay to its configured base,
// called on a configuration change (spec section 4.5: "A configuration
// change to a spec... resets delay to the configured base").
func (q *Queue) ResetDelay(runSpecID pathid.Path, backoff spec.BackoffStrategy) {
	q.call(func() {
		st := q.stateFor(runSpecID, backoff)
		st.delay = backoff.BackoffSeconds
		st.nextAllowedAt = time.Time{}
		st.sawFailureBefore = false
		st.ranSinceFailure = false
	})
}

// Purge removes all queue state for a run-spec, called when the spec
// is stopped/removed.
func (q *Queue) Purge(runSpecID pathid.Path) {
	q.call(func() {
		delete(q.specs, runSpecID)
	})
}

// RecordLaunchFailure escalates a run-spec's backoff delay on a
// TASK_FAILED with no intervening TASK_RUNNING since the previous
// failure (spec section 4.5). A failure that follows a successful run
// does not escalate the delay further.
func (q *Queue) RecordLaunchFailure(runSpecID pathid.Path) {
	q.call(func() {
		st, ok := q.specs[runSpecID]
		if !ok {
			return
		}
		metrics.LaunchFailuresTotal.Inc()
		now := time.Now()
		st.lastLaunchFailureAt = now
		if !st.sawFailureBefore || !st.ranSinceFailure {
			st.delay = minDuration(time.Duration(float64(st.delay)*st.backoff.BackoffFactor), st.backoff.MaxLaunchDelaySeconds)
		}
		st.sawFailureBefore = true
		st.ranSinceFailure = false
		st.nextAllowedAt = now.Add(st.delay)
	})
}

// RecordLaunchRunning marks a run-spec as having observed a TASK_RUNNING,
// breaking the escalation chain for the next failure.
func (q *Queue) RecordLaunchRunning(runSpecID pathid.Path) {
	q.call(func() {
		if st, ok := q.specs[runSpecID]; ok {
			st.ranSinceFailure = true
		}
	})
}

// Consume reports whether a launch may proceed right now for
// runSpecID — pending demand exists and the backoff delay has
// elapsed — and, if so, decrements pending by one.
func (q *Queue) Consume(runSpecID pathid.Path) bool {
	var ok bool
	q.call(func() {
		st, exists := q.specs[runSpecID]
		if !exists || st.pending <= 0 {
			return
		}
		if time.Now().Before(st.nextAllowedAt) {
			return
		}
		st.pending--
		ok = true
	})
	return ok
}

// List returns a snapshot of every tracked run-spec's queue state,
// sorted by run-spec id (spec section 4.5's list() operation).
func (q *Queue) List() []Request {
	var out []Request
	q.call(func() {
		now := time.Now()
		for id, st := range q.specs {
			out = append(out, Request{
				RunSpecID:           id,
				Pending:             st.pending,
				Delay:               st.delay,
				Overdue:             !now.Before(st.nextAllowedAt),
				LastLaunchFailureAt: st.lastLaunchFailureAt,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RunSpecID.Less(out[j].RunSpecID) })
	return out
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
