package deploy

import (
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appAt(id, image string, instances int, deps ...string) *spec.AppSpec {
	var d []pathid.Path
	for _, dep := range deps {
		d = append(d, pathid.New(dep))
	}
	return &spec.AppSpec{
		Path:      pathid.New(id),
		Image:     image,
		Instances: instances,
		Deps:      d,
		Upgrade:   spec.DefaultUpgradeStrategy(),
		Backoff:   spec.DefaultBackoffStrategy(),
		VersionAt: time.Unix(0, 0),
	}
}

func TestPlannerEmitsStartForNewSpec(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	target := spec.NewGroup(pathid.Root)
	target.Apps["web"] = appAt("/web", "img:1", 3)

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, ActionStart, plan.Steps[0].Actions[0].Kind)
	assert.Equal(t, 3, plan.Steps[0].Actions[0].ScaleTo)
}

func TestPlannerEmitsStopForRemovedSpec(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	original.Apps["web"] = appAt("/web", "img:1", 3)
	target := spec.NewGroup(pathid.Root)

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, ActionStop, plan.Steps[0].Actions[0].Kind)
}

func TestPlannerScaleOnlyNeverRestarts(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	original.Apps["web"] = appAt("/web", "img:1", 2)
	target := spec.NewGroup(pathid.Root)
	target.Apps["web"] = appAt("/web", "img:1", 5)

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, ActionScale, plan.Steps[0].Actions[0].Kind)
}

func TestPlannerConfigChangeRestartsIndependentOfScale(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	original.Apps["web"] = appAt("/web", "img:1", 2)
	target := spec.NewGroup(pathid.Root)
	target.Apps["web"] = appAt("/web", "img:2", 5)

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1) // no artifacts declared, so no resolve-artifacts step
	var kinds []ActionKind
	for _, step := range plan.Steps {
		for _, a := range step.Actions {
			kinds = append(kinds, a.Kind)
		}
	}
	assert.Contains(t, kinds, ActionRestart)
	assert.NotContains(t, kinds, ActionScale)
}

func TestPlannerOrdersDependentSpecsIntoLaterLayers(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	target := spec.NewGroup(pathid.Root)
	target.Apps["db"] = appAt("/db", "img:1", 1)
	target.Apps["service"] = appAt("/service", "img:1", 1, "/db")
	target.Apps["frontend"] = appAt("/frontend", "img:1", 1, "/service")

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, pathid.New("/db"), plan.Steps[0].Actions[0].RunSpecID)
	assert.Equal(t, pathid.New("/service"), plan.Steps[1].Actions[0].RunSpecID)
	assert.Equal(t, pathid.New("/frontend"), plan.Steps[2].Actions[0].RunSpecID)
}

func TestPlannerRejectsCyclicDependencies(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	target := spec.NewGroup(pathid.Root)
	target.Apps["a"] = appAt("/a", "img:1", 1, "/b")
	target.Apps["b"] = appAt("/b", "img:1", 1, "/a")

	_, err := NewPlanner().Plan("p1", time.Now(), original, target)
	assert.ErrorIs(t, err, spec.ErrCyclicDependencies)
}

func TestPlannerEmitsResolveArtifactsBeforeRestart(t *testing.T) {
	original := spec.NewGroup(pathid.Root)
	original.Apps["web"] = appAt("/web", "img:1", 2)
	target := spec.NewGroup(pathid.Root)
	webTarget := appAt("/web", "img:2", 2)
	webTarget.Artifacts = []spec.ArtifactRef{{URL: "https://example.test/app.tgz", Dest: "/var/lib/helmsman/app.tgz"}}
	target.Apps["web"] = webTarget

	plan, err := NewPlanner().Plan("p1", time.Now(), original, target)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, ActionResolveArtifacts, plan.Steps[0].Actions[0].Kind)
	assert.Equal(t, ActionRestart, plan.Steps[1].Actions[0].Kind)
}
