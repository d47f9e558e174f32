package lifecycle

import (
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	byRunSpec map[pathid.Path][]*instance.Instance
}

func (f *fakeSource) InstancesBySpec() map[pathid.Path][]*instance.Instance { return f.byRunSpec }

type fakeProcessor struct {
	ops []instance.UpdateOp
}

func (f *fakeProcessor) Process(op instance.UpdateOp) instance.UpdateEffect {
	f.ops = append(f.ops, op)
	return instance.Updated(nil, nil)
}

func TestPolicyMarksUnreachableInactiveAfterTimeout(t *testing.T) {
	since := time.Now().Add(-10 * time.Minute)
	inst := &instance.Instance{
		ID:                  pathid.New("/web/i1"),
		State:               instance.InstanceState{Condition: instance.Unreachable, UnreachableSince: &since},
		UnreachableStrategy: instance.UnreachableStrategy{TimeUntilInactive: 5 * time.Minute, TimeUntilExpunge: 20 * time.Minute},
		Tasks:               map[string]*instance.Task{},
	}
	src := &fakeSource{byRunSpec: map[pathid.Path][]*instance.Instance{pathid.New("/web"): {inst}}}
	proc := &fakeProcessor{}
	p := NewPolicy(src, proc, nil, time.Hour)

	p.tick(time.Now())

	require.Len(t, proc.ops, 1)
	op, ok := proc.ops[0].(instance.MarkUnreachableInactive)
	require.True(t, ok)
	assert.Equal(t, inst.ID.String(), op.InstanceID)
}

func TestPolicyExpungesAfterInactiveTimeout(t *testing.T) {
	since := time.Now().Add(-30 * time.Minute)
	inst := &instance.Instance{
		ID:                  pathid.New("/web/i1"),
		State:               instance.InstanceState{Condition: instance.UnreachableInactive, UnreachableSince: &since},
		UnreachableStrategy: instance.UnreachableStrategy{TimeUntilInactive: 5 * time.Minute, TimeUntilExpunge: 20 * time.Minute},
		Tasks:               map[string]*instance.Task{},
	}
	src := &fakeSource{byRunSpec: map[pathid.Path][]*instance.Instance{pathid.New("/web"): {inst}}}
	proc := &fakeProcessor{}
	p := NewPolicy(src, proc, nil, time.Hour)

	p.tick(time.Now())

	require.Len(t, proc.ops, 1)
	_, ok := proc.ops[0].(instance.ForceExpunge)
	assert.True(t, ok)
}

func TestPolicyDoesNothingBeforeThresholds(t *testing.T) {
	since := time.Now()
	inst := &instance.Instance{
		ID:                  pathid.New("/web/i1"),
		State:               instance.InstanceState{Condition: instance.Unreachable, UnreachableSince: &since},
		UnreachableStrategy: instance.UnreachableStrategy{TimeUntilInactive: 5 * time.Minute, TimeUntilExpunge: 20 * time.Minute},
		Tasks:               map[string]*instance.Task{},
	}
	src := &fakeSource{byRunSpec: map[pathid.Path][]*instance.Instance{pathid.New("/web"): {inst}}}
	proc := &fakeProcessor{}
	p := NewPolicy(src, proc, nil, time.Hour)

	p.tick(time.Now())

	assert.Empty(t, proc.ops)
}

func TestPolicyReservationTimeout(t *testing.T) {
	inst := &instance.Instance{
		ID:    pathid.New("/db/i1"),
		State: instance.InstanceState{Condition: instance.Reserved},
		Tasks: map[string]*instance.Task{"t1": {ID: "t1", Kind: instance.TaskReserved, Status: instance.TaskStatus{StagedAt: time.Now().Add(-time.Hour)}}},
	}
	runSpecID := pathid.New("/db")
	src := &fakeSource{byRunSpec: map[pathid.Path][]*instance.Instance{runSpecID: {inst}}}
	proc := &fakeProcessor{}
	timeout := 30 * time.Minute
	p := NewPolicy(src, proc, func(pathid.Path) *time.Duration { return &timeout }, time.Hour)

	p.tick(time.Now())

	require.Len(t, proc.ops, 1)
	op, ok := proc.ops[0].(instance.ReservationTimeout)
	require.True(t, ok)
	assert.Equal(t, inst.ID.String(), op.InstanceID)
}
