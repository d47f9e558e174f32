package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/events"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, storage.Repository) {
	t.Helper()
	repo, err := storage.NewBoltRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	tr := NewTracker(repo, bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, tr.Start(ctx))
	return tr, repo
}

func TestTrackerLaunchEphemeralIndexesAndPersists(t *testing.T) {
	tr, repo := newTestTracker(t)

	runSpecID := pathid.New("/web")
	inst := &instance.Instance{
		ID:        instance.NewID(runSpecID),
		RunSpecID: runSpecID,
		State:     instance.InstanceState{Condition: instance.Staging, Since: time.Now()},
		Tasks:     map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskLaunchedEphemeral}},
	}

	effect := tr.Process(instance.LaunchEphemeral{Instance: inst})
	assert.Equal(t, instance.EffectUpdate, effect.Kind)

	assert.Len(t, tr.SpecInstances(runSpecID), 1)

	_, ok, err := storage.GetInstance(repo, inst.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrackerMesosUpdateRejectsReservedTask(t *testing.T) {
	tr, _ := newTestTracker(t)
	runSpecID := pathid.New("/web")
	instID := instance.NewID(runSpecID)
	inst := &instance.Instance{
		ID:        instID,
		RunSpecID: runSpecID,
		Tasks:     map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskReserved}},
	}
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.Reserve{Instance: inst}).Kind)

	effect := tr.Process(instance.MesosUpdate{
		InstanceID: instID.String(),
		TaskID:     "t1",
		Condition:  instance.Running,
		Now:        time.Now(),
	})
	assert.Equal(t, instance.EffectFailure, effect.Kind)
}

func TestTrackerMesosUpdateToTerminalExpungesInstance(t *testing.T) {
	tr, _ := newTestTracker(t)
	runSpecID := pathid.New("/web")
	instID := instance.NewID(runSpecID)
	inst := &instance.Instance{
		ID:        instID,
		RunSpecID: runSpecID,
		Tasks:     map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskLaunchedEphemeral}},
	}
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.LaunchEphemeral{Instance: inst}).Kind)

	effect := tr.Process(instance.MesosUpdate{
		InstanceID: instID.String(),
		TaskID:     "t1",
		Condition:  instance.Failed,
		Now:        time.Now(),
	})
	assert.Equal(t, instance.EffectExpunge, effect.Kind)
	assert.Empty(t, tr.SpecInstances(runSpecID))
}

func TestTrackerMarkUnreachableInactiveTransitionsCondition(t *testing.T) {
	tr, _ := newTestTracker(t)
	runSpecID := pathid.New("/web")
	instID := instance.NewID(runSpecID)
	inst := &instance.Instance{
		ID:        instID,
		RunSpecID: runSpecID,
		Tasks:     map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskLaunchedEphemeral}},
	}
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.LaunchEphemeral{Instance: inst}).Kind)
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.MesosUpdate{
		InstanceID: instID.String(), TaskID: "t1", Condition: instance.Unreachable, Now: time.Now(),
	}).Kind)

	effect := tr.Process(instance.MarkUnreachableInactive{InstanceID: instID.String(), Now: time.Now()})
	require.Equal(t, instance.EffectUpdate, effect.Kind)
	assert.Equal(t, instance.UnreachableInactive, tr.Instance(instID).State.Condition)
}

func TestTrackerForceExpungeOnUnknownInstanceIsNoop(t *testing.T) {
	tr, _ := newTestTracker(t)
	effect := tr.Process(instance.ForceExpunge{InstanceID: "/web/does-not-exist", Reason: "test"})
	assert.Equal(t, instance.EffectNoop, effect.Kind)
}

type fakeReplacementKiller struct {
	mu     sync.Mutex
	killed []string
}

func (k *fakeReplacementKiller) KillInstance(_ context.Context, instanceID, _ string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, instanceID)
	return nil
}

func (k *fakeReplacementKiller) snapshot() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.killed...)
}

// TestTrackerReobservationKillsYoungestReplacement covers spec scenario
// 3: i1 goes Unreachable, a replacement i2 is launched and becomes
// Running while i1 is still unreachable, then i1 reappears; with the
// default YoungestFirst policy the tracker must kill i2, not i1.
func TestTrackerReobservationKillsYoungestReplacement(t *testing.T) {
	tr, _ := newTestTracker(t)
	killer := &fakeReplacementKiller{}
	tr.SetReplacementKiller(nil, killer) // nil lookup -> default YoungestFirst

	runSpecID := pathid.New("/web")
	i1 := instance.NewID(runSpecID)
	inst1 := &instance.Instance{
		ID:        i1,
		RunSpecID: runSpecID,
		State:     instance.InstanceState{Condition: instance.Running, Since: time.Now().Add(-time.Hour)},
		Tasks:     map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskLaunchedEphemeral}},
	}
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.LaunchEphemeral{Instance: inst1}).Kind)

	lostAt := time.Now()
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.MesosUpdate{
		InstanceID: i1.String(), TaskID: "t1", Condition: instance.Unreachable, Now: lostAt,
	}).Kind)

	i2 := instance.NewID(runSpecID)
	inst2 := &instance.Instance{
		ID:        i2,
		RunSpecID: runSpecID,
		State:     instance.InstanceState{Condition: instance.Staging, Since: lostAt.Add(time.Minute)},
		Tasks:     map[string]*instance.Task{"t2": {ID: "t2", Kind: instance.TaskLaunchedEphemeral}},
	}
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.LaunchEphemeral{Instance: inst2}).Kind)
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.MesosUpdate{
		InstanceID: i2.String(), TaskID: "t2", Condition: instance.Running, Now: lostAt.Add(time.Minute),
	}).Kind)

	// i1 reappears.
	require.Equal(t, instance.EffectUpdate, tr.Process(instance.MesosUpdate{
		InstanceID: i1.String(), TaskID: "t1", Condition: instance.Running, Now: lostAt.Add(2 * time.Minute),
	}).Kind)

	require.Eventually(t, func() bool {
		return len(killer.snapshot()) == 1
	}, time.Second, 5*time.Millisecond, "expected exactly one replacement kill")
	assert.Equal(t, []string{i2.String()}, killer.snapshot())
}
