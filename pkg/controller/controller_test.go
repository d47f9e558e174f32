package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
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

type fakeQueue struct {
	mu      sync.Mutex
	added   map[string]int
	resetAt map[string]int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{added: make(map[string]int), resetAt: make(map[string]int)}
}

func (q *fakeQueue) Add(app *spec.AppSpec, count int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added[app.ID().String()] += count
}

func (q *fakeQueue) ResetDelay(runSpecID pathid.Path, backoff spec.BackoffStrategy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetAt[runSpecID.String()]++
}

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

func testAppNoChecks(id string) *spec.AppSpec {
	return &spec.AppSpec{
		Path:      pathid.New(id),
		Instances: 3,
		Upgrade:   spec.DefaultUpgradeStrategy(),
		Backoff:   spec.DefaultBackoffStrategy(),
	}
}

func TestStartControllerCompletesOnReadyCount(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	app := testAppNoChecks("/web")
	instances := newFakeInstances()
	queue := newFakeQueue()

	c := NewStartController(app, 2, bus, instances, fakeHealth{}, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(10 * time.Millisecond) // let Add land and subscription register
	assert.Equal(t, 2, queue.added[app.ID().String()])

	i1 := &instance.Instance{ID: instance.NewID(app.ID()), RunSpecID: app.ID(), State: instance.InstanceState{Condition: instance.Running}}
	instances.put(i1)
	bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: app.ID().String(), InstanceID: i1.ID.String()})

	i2 := &instance.Instance{ID: instance.NewID(app.ID()), RunSpecID: app.ID(), State: instance.InstanceState{Condition: instance.Running}}
	instances.put(i2)
	bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: app.ID().String(), InstanceID: i2.ID.String()})

	select {
	case res := <-c.Done():
		assert.False(t, res.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("start controller did not complete")
	}
}

func TestStartControllerCancelsOnShutdown(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	app := testAppNoChecks("/web")
	instances := newFakeInstances()
	queue := newFakeQueue()

	c := NewStartController(app, 2, bus, instances, fakeHealth{}, queue)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	c.Shutdown("cancelled by user")

	select {
	case res := <-c.Done():
		assert.True(t, res.Cancelled)
		assert.Equal(t, "cancelled by user", res.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("start controller did not cancel")
	}
}

func TestScaleControllerScalesDownAndKillsVictims(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	app := testAppNoChecks("/web")
	instances := newFakeInstances()
	queue := newFakeQueue()
	killer := &fakeKiller{}

	var ids []string
	for i := 0; i < 3; i++ {
		inst := &instance.Instance{ID: instance.NewID(app.ID()), RunSpecID: app.ID(), State: instance.InstanceState{Condition: instance.Running, Since: time.Now().Add(time.Duration(i) * time.Minute)}}
		instances.put(inst)
		ids = append(ids, inst.ID.String())
	}

	c := NewScaleController(app, 1, nil, bus, instances, fakeHealth{}, queue, killer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	killer.mu.Lock()
	killedCount := len(killer.killed)
	killer.mu.Unlock()
	require.Equal(t, 2, killedCount)

	for _, id := range killer.killed {
		instances.remove(id)
		bus.Publish(events.Event{Type: events.InstanceChangedEvent, RunSpecID: app.ID().String(), InstanceID: id})
	}

	select {
	case res := <-c.Done():
		assert.False(t, res.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("scale controller did not complete")
	}
}

// TestScaleControllerVictimSelectionPrefersConstraintViolators covers
// spec section 4.6.2's "never break a UNIQUE or MAX_PER constraint the
// remaining fleet must satisfy": when the current fleet already holds
// an excess instance on a MAX_PER-constrained value, scale-down must
// retire the excess instance before touching a zone that is at or
// under its cap, even if killSelection would otherwise pick differently.
func TestScaleControllerVictimSelectionPrefersConstraintViolators(t *testing.T) {
	app := testAppNoChecks("/web")
	app.KillSelect = instance.OldestFirst
	app.Constraints = []spec.Constraint{{Kind: spec.ConstraintMaxPer, Field: "zone", N: 1}}

	base := time.Now()
	zoneA1 := &instance.Instance{ID: pathid.New("/web/a1"), RunSpecID: app.ID(), Agent: instance.AgentInfo{Attributes: map[string]string{"zone": "a"}}, State: instance.InstanceState{Condition: instance.Running, Since: base}}
	zoneA2 := &instance.Instance{ID: pathid.New("/web/a2"), RunSpecID: app.ID(), Agent: instance.AgentInfo{Attributes: map[string]string{"zone": "a"}}, State: instance.InstanceState{Condition: instance.Running, Since: base.Add(time.Minute)}}
	zoneB1 := &instance.Instance{ID: pathid.New("/web/b1"), RunSpecID: app.ID(), Agent: instance.AgentInfo{Attributes: map[string]string{"zone": "b"}}, State: instance.InstanceState{Condition: instance.Running, Since: base.Add(2 * time.Minute)}}

	c := &ScaleController{app: app}
	// OldestFirst alone would pick zoneA1 (the oldest overall), but
	// zoneA2 is the MAX_PER(zone,1) excess holder and must go first.
	victims := c.selectVictims([]*instance.Instance{zoneA1, zoneA2, zoneB1}, 1)
	require.Len(t, victims, 1)
	assert.Equal(t, zoneA2.ID.String(), victims[0])
}

func TestRestartControllerCapacityArithmeticNoResidency(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	app := testAppNoChecks("/web")
	app.Instances = 4
	app.Upgrade = spec.UpgradeStrategy{MinimumHealthCapacity: 1.0, MaximumOverCapacity: 0.0}
	app.VersionAt = time.Now()

	instances := newFakeInstances()
	for i := 0; i < 4; i++ {
		inst := &instance.Instance{
			ID: instance.NewID(app.ID()), RunSpecID: app.ID(),
			State:          instance.InstanceState{Condition: instance.Running},
			RunSpecVersion: app.VersionAt.Add(-time.Hour), // stale version
		}
		instances.put(inst)
	}

	queue := newFakeQueue()
	killer := &fakeKiller{}
	c := NewRestartController(app, bus, instances, fakeHealth{}, queue, killer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	// minHealthy == maxCapacity == 4 == M: non-resident special case
	// bumps maxCapacity to 5, allowing a one-instance bubble.
	assert.Equal(t, 1, queue.resetAt[app.ID().String()])
	assert.Equal(t, 1, queue.added[app.ID().String()])

	c.Shutdown("test done")
	<-c.Done()
}
