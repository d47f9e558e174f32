package matcher

import (
	"testing"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicOffer() offers.Offer {
	return offers.Offer{
		ID:      "offer-1",
		AgentID: "agent-1",
		Host:    "10.0.0.5",
		Scalars: map[string][]offers.Resource{
			"cpus": {{Role: "*", Value: 4}},
			"mem":  {{Role: "*", Value: 4096}},
			"disk": {{Role: "*", Value: 10240}},
		},
		Ports: []offers.PortRange{{Role: "*", Begin: 31000, End: 32000}},
	}
}

func basicApp() *spec.AppSpec {
	return &spec.AppSpec{
		Path:            pathid.New("/web"),
		Image:           "nginx:1.25",
		Cpus:            0.5,
		Mem:             256,
		PortDefinitions: []spec.PortDefinition{{Name: "http", Port: 0, Protocol: "tcp"}},
		Instances:       1,
		Upgrade:         spec.DefaultUpgradeStrategy(),
	}
}

func TestMatchSatisfiesScalarAndPortDemand(t *testing.T) {
	res := Match(basicApp(), basicOffer(), nil, nil)
	require.True(t, res.Matched, "reasons: %v", res.Reasons)
	require.Len(t, res.Task.Selection.Ports, 1)
	assert.NotNil(t, res.Task.Selection.Ports[0].HostPort)
	assert.Equal(t, "*", res.Task.Selection.Scalars["cpus"].Role)
}

func TestMatchInsufficientCPU(t *testing.T) {
	app := basicApp()
	app.Cpus = 100
	res := Match(app, basicOffer(), nil, nil)
	assert.False(t, res.Matched)
	assert.NotEmpty(t, res.Reasons)
}

func TestMatchFixedPortMustBeInRange(t *testing.T) {
	app := basicApp()
	app.PortDefinitions = []spec.PortDefinition{{Name: "http", Port: 80}}
	res := Match(app, basicOffer(), nil, nil)
	assert.False(t, res.Matched)
}

func TestMatchPortIdempotence(t *testing.T) {
	app := basicApp()
	app.PortDefinitions = []spec.PortDefinition{{Name: "http", Port: 31005}}
	offer := basicOffer()

	first := Match(app, offer, nil, nil)
	second := Match(app, offer, nil, nil)
	require.True(t, first.Matched)
	require.True(t, second.Matched)
	assert.Equal(t, *first.Task.Selection.Ports[0].HostPort, *second.Task.Selection.Ports[0].HostPort)
}

func TestMatchRequirePortsRejectsDynamicPort(t *testing.T) {
	app := basicApp()
	app.RequirePorts = true
	app.PortDefinitions = []spec.PortDefinition{{Name: "http", Port: 0}}
	res := Match(app, basicOffer(), nil, nil)
	assert.False(t, res.Matched)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "requirePorts")
}

func TestMatchRequirePortsAllowsAllFixedPorts(t *testing.T) {
	app := basicApp()
	app.RequirePorts = true
	app.PortDefinitions = []spec.PortDefinition{{Name: "http", Port: 31005}}
	res := Match(app, basicOffer(), nil, nil)
	require.True(t, res.Matched, "reasons: %v", res.Reasons)
	require.NotNil(t, res.Task.Selection.Ports[0].HostPort)
	assert.Equal(t, 31005, *res.Task.Selection.Ports[0].HostPort)
}

func TestMatchUniqueConstraintRejectsSecondOnSameHost(t *testing.T) {
	app := basicApp()
	app.Constraints = []spec.Constraint{{Kind: spec.ConstraintUnique, Field: "hostname"}}
	running := []*instance.Instance{
		{ID: pathid.New("/web/i1"), Agent: instance.AgentInfo{Host: "10.0.0.5"}},
	}
	res := Match(app, basicOffer(), running, nil)
	assert.False(t, res.Matched)
}

func TestMatchRoleFiltering(t *testing.T) {
	offer := basicOffer()
	offer.Scalars["cpus"] = []offers.Resource{{Role: "reserved-role", Value: 4}}
	res := Match(basicApp(), offer, nil, []string{"*"})
	assert.False(t, res.Matched)
}

func TestEnvPrecedenceUserOverridesGenerated(t *testing.T) {
	app := basicApp()
	app.Env = map[string]string{"HOST": "overridden"}
	res := Match(app, basicOffer(), nil, nil)
	require.True(t, res.Matched)
	assert.Equal(t, "overridden", res.Task.Env["HOST"])
}

func TestEnvPrefixAppliesExceptWhitelist(t *testing.T) {
	app := basicApp()
	app.EnvPrefix = "MYAPP_"
	res := Match(app, basicOffer(), nil, nil)
	require.True(t, res.Matched)
	assert.Contains(t, res.Task.Env, "MYAPP_HOST")
	assert.Contains(t, res.Task.Env, "MESOS_TASK_ID")
	assert.NotContains(t, res.Task.Env, "MYAPP_MESOS_TASK_ID")
	assert.Contains(t, res.Task.Env, "MARATHON_APP_ID")
}
