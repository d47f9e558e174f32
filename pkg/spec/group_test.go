package spec

import (
	"testing"

	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appAt(id string) *AppSpec {
	return &AppSpec{Path: pathid.New(id), Instances: 1, Upgrade: DefaultUpgradeStrategy()}
}

func TestGroupValidateNameClash(t *testing.T) {
	g := NewGroup(pathid.Root)
	g.Apps["web"] = appAt("/web")
	g.Pods["web"] = &PodSpec{Path: pathid.New("/web")}

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share an id")
}

func TestGroupValidateCycle(t *testing.T) {
	g := NewGroup(pathid.Root)
	a := appAt("/a")
	b := appAt("/b")
	a.Deps = []pathid.Path{pathid.New("/b")}
	b.Deps = []pathid.Path{pathid.New("/a")}
	g.Apps["a"] = a
	g.Apps["b"] = b

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDependencies)
}

func TestTopoSortSpecsOrdersDependenciesFirst(t *testing.T) {
	g := NewGroup(pathid.Root)
	db := appAt("/db")
	service := appAt("/service")
	service.Deps = []pathid.Path{pathid.New("/db")}
	frontend := appAt("/frontend")
	frontend.Deps = []pathid.Path{pathid.New("/service")}
	g.Apps["db"] = db
	g.Apps["service"] = service
	g.Apps["frontend"] = frontend

	order, err := g.TopoSortSpecs()
	require.NoError(t, err)

	index := func(p pathid.Path) int {
		for i, o := range order {
			if o == p {
				return i
			}
		}
		return -1
	}
	assert.Less(t, index(pathid.New("/db")), index(pathid.New("/service")))
	assert.Less(t, index(pathid.New("/service")), index(pathid.New("/frontend")))
}

func TestTransitiveCollectsNestedSpecs(t *testing.T) {
	root := NewGroup(pathid.Root)
	sub := NewGroup(pathid.New("/prod"))
	sub.Apps["web"] = appAt("/prod/web")
	root.Groups["prod"] = sub

	all := root.Transitive()
	_, ok := all[pathid.New("/prod/web")]
	assert.True(t, ok)
}
