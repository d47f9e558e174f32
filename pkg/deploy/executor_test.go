package deploy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/launchqueue"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstances struct {
	mu   sync.Mutex
	byID map[string]*instance.Instance
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{byID: make(map[string]*instance.Instance)}
}

func (f *fakeInstances) put(inst *instance.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[inst.ID.String()] = inst
}

func (f *fakeInstances) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

func (f *fakeInstances) SpecInstances(runSpecID pathid.Path) []*instance.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range f.byID {
		if inst.RunSpecID == runSpecID {
			out = append(out, inst)
		}
	}
	return out
}

func (f *fakeInstances) Instance(id pathid.Path) *instance.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id.String()]
}

type fakeHealth struct{}

func (fakeHealth) IsHealthy(runSpecID pathid.Path, checkIndex int, instanceID string) *bool { return nil }

type fakeKiller struct {
	mu     sync.Mutex
	killed []string
}

func (k *fakeKiller) KillInstance(ctx context.Context, instanceID, reason string) error {
	k.mu.Lock()
	k.killed = append(k.killed, instanceID)
	k.mu.Unlock()
	return nil
}

func (k *fakeKiller) KillInstances(ctx context.Context, instanceIDs []string, reason string) error {
	k.mu.Lock()
	k.killed = append(k.killed, instanceIDs...)
	k.mu.Unlock()
	return nil
}

func startApp(id string, n int) *spec.AppSpec {
	return &spec.AppSpec{
		Path:      pathid.New(id),
		Instances: n,
		Upgrade:   spec.DefaultUpgradeStrategy(),
		Backoff:   spec.DefaultBackoffStrategy(),
	}
}

func newTestExecutor(t *testing.T) (*Executor, *events.Bus, *fakeInstances, *launchqueue.Queue, *fakeKiller) {
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	q := launchqueue.NewQueue()
	q.Start()
	t.Cleanup(q.Stop)

	instances := newFakeInstances()
	killer := &fakeKiller{}

	return NewExecutor(bus, instances, fakeHealth{}, q, killer), bus, instances, q, killer
}

func TestExecutorRunsStepsSequentially(t *testing.T) {
	exec, bus, instances, q, _ := newTestExecutor(t)

	appA := startApp("/a", 1)
	appB := startApp("/b", 1)
	plan := &Plan{
		ID: "seq",
		Steps: []Step{
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appA.ID(), App: appA, ScaleTo: 1}}},
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appB.ID(), App: appB, ScaleTo: 1}}},
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- exec.Execute(context.Background(), plan) }()

	time.Sleep(30 * time.Millisecond)
	requestedB := false
	for _, r := range q.List() {
		if r.RunSpecID == appB.ID() {
			requestedB = true
		}
	}
	assert.False(t, requestedB, "step 2 must not start before step 1 completes")

	instA := &instance.Instance{ID: instance.NewID(appA.ID()), RunSpecID: appA.ID(), State: instance.InstanceState{Condition: instance.Running}}
	instances.put(instA)
	bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: appA.ID().String(), InstanceID: instA.ID.String()})

	time.Sleep(30 * time.Millisecond)
	requestedB = false
	for _, r := range q.List() {
		if r.RunSpecID == appB.ID() {
			requestedB = true
		}
	}
	assert.True(t, requestedB, "step 2 must start once step 1 completes")

	instB := &instance.Instance{ID: instance.NewID(appB.ID()), RunSpecID: appB.ID(), State: instance.InstanceState{Condition: instance.Running}}
	instances.put(instB)
	bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: appB.ID().String(), InstanceID: instB.ID.String()})

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not finish")
	}
}

func TestExecutorAbortsOnStepFailure(t *testing.T) {
	exec, _, _, q, _ := newTestExecutor(t)

	appA := startApp("/a", 1)
	appB := startApp("/b", 1)
	plan := &Plan{
		ID: "abort",
		Steps: []Step{
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appA.ID(), App: appA, ScaleTo: 1}}},
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appB.ID(), App: appB, ScaleTo: 1}}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- exec.Execute(ctx, plan) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStepFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not abort")
	}

	for _, r := range q.List() {
		assert.NotEqual(t, appB.ID(), r.RunSpecID, "a later step must never run after an earlier one fails")
	}
}

func TestExecutorCancelForceSkipsRollback(t *testing.T) {
	exec, _, _, _, _ := newTestExecutor(t)

	appA := startApp("/a", 1)
	plan := &Plan{
		ID:           "force-cancel",
		OriginalRoot: spec.NewGroup(pathid.Root),
		TargetRoot:   spec.NewGroup(pathid.Root),
		Steps: []Step{
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appA.ID(), App: appA, ScaleTo: 1}}},
		},
	}

	ctx := context.Background()
	go exec.Execute(ctx, plan)
	time.Sleep(10 * time.Millisecond)

	err := exec.Cancel(ctx, true)
	require.NoError(t, err)
}

func TestExecutorCancelRollsBackToOriginal(t *testing.T) {
	exec, _, _, q, _ := newTestExecutor(t)

	appA := startApp("/a", 1)
	original := spec.NewGroup(pathid.Root)
	target := spec.NewGroup(pathid.Root)
	target.Apps["a"] = appA

	plan := &Plan{
		ID:           "rollback",
		OriginalRoot: original,
		TargetRoot:   target,
		Steps: []Step{
			{Actions: []Action{{Kind: ActionStart, RunSpecID: appA.ID(), App: appA, ScaleTo: 1}}},
		},
	}

	ctx := context.Background()
	go exec.Execute(ctx, plan)
	time.Sleep(10 * time.Millisecond)

	err := exec.Cancel(ctx, false)
	require.NoError(t, err)

	// the rollback's StopController purges the queue on the way out
	for _, r := range q.List() {
		assert.NotEqual(t, appA.ID(), r.RunSpecID)
	}
}
