// Package matcher implements the Resource-Offer Matcher (spec section
// 4.1): given a run-spec and a resource offer, decide whether the
// offer satisfies the spec's resource, port, role, constraint and
// persistent-volume requirements, producing a concrete launch
// descriptor on success.
package matcher

import (
	"fmt"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

// Result is the outcome of a single match attempt: either a populated
// Task (Matched == true) or a list of human-readable reasons
// (Matched == false). A mismatch is a data outcome, not an error
// (section 4.1, "Error conditions").
type Result struct {
	Matched bool
	Reasons []string
	Task    offers.TaskInfo
}

func noMatch(reasons ...string) Result {
	return Result{Matched: false, Reasons: reasons}
}

// Match attempts to satisfy app against offer, given the set of
// already-running instances of app (for placement constraints) and the
// resource roles the framework will accept.
func Match(app *spec.AppSpec, offer offers.Offer, running []*instance.Instance, acceptedRoles []string) Result {
	if err := validateSpec(app); err != nil {
		return noMatch(err.Error())
	}

	filtered := filterByRoles(offer, acceptedRoles)

	selection := offers.ResourceSelection{Scalars: make(map[string]offers.Resource)}
	var reasons []string

	for _, demand := range scalarDemands(app) {
		res, ok := consumeScalar(filtered, demand.name, demand.value)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("insufficient %s: need %.3f", demand.name, demand.value))
			continue
		}
		selection.Scalars[demand.name] = res
	}
	if len(reasons) > 0 {
		return noMatch(reasons...)
	}

	bindings, ok, reason := allocatePorts(app, filtered)
	if !ok {
		return noMatch(reason)
	}
	selection.Ports = bindings

	if failed := evaluateConstraints(app.Constraints, offer, running); len(failed) > 0 {
		return noMatch(failed...)
	}

	if app.IsResident() {
		disk, ok, reason := matchVolume(app, filtered)
		if !ok {
			return noMatch(reason)
		}
		selection.Disk = disk
	}

	task := buildTaskInfo(app, offer, selection)
	return Result{Matched: true, Task: task}
}

// validateSpec rejects invalid combinations before matching begins,
// per section 4.1's "Error conditions": requirePorts with a missing
// declared port, or, in container-network mode, a port mapping with no
// container port or two port mappings declaring the same container
// port. Resource roles are not considered here.
func validateSpec(app *spec.AppSpec) error {
	if app.ContainerNetwork() {
		seen := make(map[int]bool)
		for _, pm := range app.PortMappings {
			if pm.ContainerPort == 0 {
				return fmt.Errorf("matcher: port mapping %q has no container port", pm.Name)
			}
			if seen[pm.ContainerPort] {
				return fmt.Errorf("matcher: duplicate container port %d in port mappings", pm.ContainerPort)
			}
			seen[pm.ContainerPort] = true
		}
	} else if app.RequirePorts {
		for _, d := range app.PortDefinitions {
			if d.Port == 0 {
				return fmt.Errorf("matcher: requirePorts is set but port definition %q has no declared port", d.Name)
			}
		}
	}
	return nil
}
