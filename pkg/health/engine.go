package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/rs/zerolog"
)

// Target is the slice of instance/task state the engine needs to run
// a check against a single task: its address, its current condition
// (non-Running tasks suppress failures, per spec 4.4), and whether it
// is currently unreachable (kill intents are skipped for unreachable
// instances).
type Target struct {
	InstanceID  string
	TaskID      string
	Address     string // host:port; an HTTP(S) check appends its Path to it
	Running     bool
	Unreachable bool
}

// TargetLister supplies the current health-check targets for a
// run-spec; the Tracker is the production implementation.
type TargetLister interface {
	HealthTargets(runSpecID pathid.Path) []Target
}

// Engine runs one worker per (run-spec, check-definition) pair on a
// periodic timer and publishes health transitions onto the bus.
type Engine struct {
	bus    *events.Bus
	lister TargetLister
	logger zerolog.Logger

	mu       sync.Mutex
	statuses map[string]*Status // key: runSpecID|checkIndex|instanceID
	workers  map[string]context.CancelFunc
}

// NewEngine creates a health engine.
func NewEngine(bus *events.Bus, lister TargetLister) *Engine {
	return &Engine{
		bus:      bus,
		lister:   lister,
		logger:   log.WithComponent("health"),
		statuses: make(map[string]*Status),
		workers:  make(map[string]context.CancelFunc),
	}
}

func statusKey(runSpecID pathid.Path, checkIndex int, instanceID string) string {
	return runSpecID.String() + "|" + strconv.Itoa(checkIndex) + "|" + instanceID
}

// RegisterApp starts a worker per check-definition for the run-spec.
// factories must have the same length and ordering as checks, with a
// nil entry for any protocol the engine does not execute locally
// (MESOS_* / COMMAND checks never produce a nil-dereference because the
// worker skips probing them, relying instead on ReportDelegatedResult).
// Each worker calls its factory once per target per probe cycle so that
// every task of the run-spec's active instances is checked against its
// own address rather than all instances sharing one fixed endpoint.
func (e *Engine) RegisterApp(runSpecID pathid.Path, checks []Check, factories []CheckerFactory) {
	for i, chk := range checks {
		chk = DefaultCheck(chk)
		ctx, cancel := context.WithCancel(context.Background())
		e.mu.Lock()
		e.workers[runSpecID.String()+"|"+strconv.Itoa(i)] = cancel
		e.mu.Unlock()

		var factory CheckerFactory
		if i < len(factories) {
			factory = factories[i]
		}
		go e.runWorker(ctx, runSpecID, i, chk, factory)
	}
}

// Unregister stops every worker for a run-spec (called when the spec
// is removed or its health checks change).
func (e *Engine) Unregister(runSpecID pathid.Path, checkCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < checkCount; i++ {
		key := runSpecID.String() + "|" + strconv.Itoa(i)
		if cancel, ok := e.workers[key]; ok {
			cancel()
			delete(e.workers, key)
		}
	}
}

func (e *Engine) runWorker(ctx context.Context, runSpecID pathid.Path, checkIndex int, chk Check, factory CheckerFactory) {
	timer := time.NewTimer(chk.FirstProbeDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.probeAll(runSpecID, checkIndex, chk, factory)
			timer.Reset(chk.Interval)
		}
	}
}

// probeAll probes every target of runSpecID independently: a fresh
// checker is built from factory against each target's own Address, so
// distinct instances of the same run-spec are never attributed a
// shared result (spec section 4.4).
func (e *Engine) probeAll(runSpecID pathid.Path, checkIndex int, chk Check, factory CheckerFactory) {
	if !chk.ExecutedLocally() || factory == nil {
		return
	}
	for _, target := range e.lister.HealthTargets(runSpecID) {
		checker := factory(target)
		if checker == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), chk.Timeout)
		result := checker.Check(ctx)
		cancel()
		e.apply(runSpecID, checkIndex, chk, target, result)
	}
}

// ReportDelegatedResult feeds a MESOS_*/COMMAND health result received
// from the external resource manager's status update through the same
// aggregation pipeline as a locally-executed probe.
func (e *Engine) ReportDelegatedResult(runSpecID pathid.Path, checkIndex int, chk Check, target Target, result Result) {
	e.apply(runSpecID, checkIndex, chk, target, result)
}

func (e *Engine) apply(runSpecID pathid.Path, checkIndex int, chk Check, target Target, result Result) {
	if !target.Running {
		// Tasks in non-Running conditions suppress failures (spec 4.4).
		return
	}

	key := statusKey(runSpecID, checkIndex, target.InstanceID)
	e.mu.Lock()
	status, ok := e.statuses[key]
	if !ok {
		status = NewStatus()
		e.statuses[key] = status
	}
	e.mu.Unlock()

	if !result.Healthy && status.InGracePeriod(chk.GracePeriod) {
		return
	}

	outcome := "healthy"
	if !result.Healthy {
		outcome = "unhealthy"
	}
	metrics.HealthCheckOutcomesTotal.WithLabelValues(string(chk.Protocol), outcome).Inc()

	wasAlive := status.Healthy
	// Update first, then evaluate consecutive-failure threshold against
	// the post-update state — preserved exactly per spec section 9,
	// open question (b); see health.Status.Update's doc comment.
	status.Update(result)

	if wasAlive != status.Healthy {
		e.bus.Publish(events.Event{
			Type:       events.InstanceHealthChanged,
			RunSpecID:  runSpecID.String(),
			InstanceID: target.InstanceID,
			TaskID:     target.TaskID,
			Healthy:    status.Healthy,
		})
	}

	if !result.Healthy && status.ConsecutiveFailuresAtOrAbove(chk.MaxConsecutiveFailures) {
		if target.Unreachable {
			e.logger.Info().
				Str("instance_id", target.InstanceID).
				Msg("health check failure threshold reached but instance is unreachable, skipping kill")
			return
		}
		metrics.UnhealthyKillsTotal.Inc()
		e.bus.Publish(events.Event{
			Type:       events.FailedHealthCheckEvent,
			RunSpecID:  runSpecID.String(),
			InstanceID: target.InstanceID,
			TaskID:     target.TaskID,
			Reason:     "FailedHealthChecks",
			Message:    result.Message,
		})
	}
}

// Forget drops the tracked status for an instance, called when the
// instance reaches a terminal or lost condition.
func (e *Engine) Forget(runSpecID pathid.Path, checkCount int, instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < checkCount; i++ {
		delete(e.statuses, statusKey(runSpecID, i, instanceID))
	}
}

// IsHealthy reports the last known health boolean for an instance
// under a given check, or nil if no result has been recorded yet.
func (e *Engine) IsHealthy(runSpecID pathid.Path, checkIndex int, instanceID string) *bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[statusKey(runSpecID, checkIndex, instanceID)]
	if !ok {
		return nil
	}
	healthy := status.Healthy
	return &healthy
}
