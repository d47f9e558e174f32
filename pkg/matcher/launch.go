package matcher

import (
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/google/uuid"
)

// buildTaskInfo assembles the launch descriptor from a successful
// match (section 4.1 step 6): container spec, command/env, discovery
// info, network info, and the kill-policy grace period if declared.
func buildTaskInfo(app *spec.AppSpec, offer offers.Offer, selection offers.ResourceSelection) offers.TaskInfo {
	taskID := app.Path.String() + "." + uuid.NewString()

	task := offers.TaskInfo{
		TaskID:    taskID,
		AgentID:   offer.AgentID,
		Selection: selection,
		Image:     app.Image,
		Labels:    app.Labels,
		Networks:  nil,
		Discovery: buildDiscovery(app, selection.Ports),
	}
	if app.Cmd != "" {
		task.Command = []string{"/bin/sh", "-c", app.Cmd}
	}
	task.Env = buildEnv(app, offer, taskID, selection.Ports)
	if app.TaskKillGracePeriod > 0 {
		grace := app.TaskKillGracePeriod
		task.KillGrace = &grace
	}
	if app.ContainerNetwork() {
		task.Networks = []string{"container"}
	}
	return task
}

// buildDiscovery produces one discovery entry per declared port, in
// declared order, scoped "host" if host-exposed else "container"
// (section 4.1 step 6).
func buildDiscovery(app *spec.AppSpec, bindings []offers.PortBinding) []offers.DiscoveryPort {
	protoFor := func(i int) string {
		if app.ContainerNetwork() {
			if i < len(app.PortMappings) {
				return app.PortMappings[i].Protocol
			}
			return ""
		}
		if i < len(app.PortDefinitions) {
			return app.PortDefinitions[i].Protocol
		}
		return ""
	}

	out := make([]offers.DiscoveryPort, 0, len(bindings))
	for i, b := range bindings {
		scope := "container"
		port := 0
		if b.HostPort != nil {
			scope = "host"
			port = *b.HostPort
		}
		out = append(out, offers.DiscoveryPort{
			Name:     b.Name,
			Protocol: protoFor(i),
			Scope:    scope,
			Port:     port,
		})
	}
	return out
}
