package matcher

import (
	"fmt"
	"sort"

	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

// allocatePorts implements section 4.1 step 3: for each declared port
// (port-definition or port-mapping), in declared order, pick a host
// port. Fixed ports must appear in the offer's ranges and are always
// bound to their exact declared value, never substituted; 0 means
// dynamic. requirePorts forbids declaring a dynamic (0) port at all,
// which validateSpec rejects before matching reaches here. Container-
// only ports keep a positional slot with a nil HostPort.
func allocatePorts(app *spec.AppSpec, offer offers.Offer) ([]offers.PortBinding, bool, string) {
	ranges := append([]offers.PortRange(nil), offer.Ports...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Begin < ranges[j].Begin })

	used := make(map[int]bool)

	if app.ContainerNetwork() {
		return allocateContainerPorts(app.PortMappings, ranges, used)
	}
	return allocateHostPorts(app.PortDefinitions, ranges, used)
}

func allocateHostPorts(defs []spec.PortDefinition, ranges []offers.PortRange, used map[int]bool) ([]offers.PortBinding, bool, string) {
	bindings := make([]offers.PortBinding, 0, len(defs))
	for _, d := range defs {
		port, ok := pickPort(ranges, used, d.Port)
		if !ok {
			return nil, false, fmt.Sprintf("no free host port available for %q (requested %d)", d.Name, d.Port)
		}
		used[port] = true
		p := port
		bindings = append(bindings, offers.PortBinding{Name: d.Name, HostPort: &p, Protocol: d.Protocol})
	}
	return bindings, true, ""
}

func allocateContainerPorts(mappings []spec.PortMapping, ranges []offers.PortRange, used map[int]bool) ([]offers.PortBinding, bool, string) {
	bindings := make([]offers.PortBinding, 0, len(mappings))
	for _, m := range mappings {
		if m.HostPort == nil {
			// container-only: no host exposure, keeps its positional slot.
			bindings = append(bindings, offers.PortBinding{Name: m.Name, HostPort: nil, Protocol: m.Protocol})
			continue
		}
		port, ok := pickPort(ranges, used, *m.HostPort)
		if !ok {
			return nil, false, fmt.Sprintf("no free host port available for %q (requested %d)", m.Name, *m.HostPort)
		}
		used[port] = true
		p := port
		bindings = append(bindings, offers.PortBinding{Name: m.Name, HostPort: &p, Protocol: m.Protocol})
	}
	return bindings, true, ""
}

// pickPort returns a concrete host port for a declared port value:
// fixed (> 0) must be free and within one of the offer's ranges;
// dynamic (== 0) picks the lowest free port across ranges, searched in
// offer order (section 4.1's "Tie-breaks": lowest-port-first).
func pickPort(ranges []offers.PortRange, used map[int]bool, declared int) (int, bool) {
	if declared > 0 {
		if used[declared] {
			return 0, false
		}
		for _, r := range ranges {
			if declared >= r.Begin && declared <= r.End {
				return declared, true
			}
		}
		return 0, false
	}
	for _, r := range ranges {
		for p := r.Begin; p <= r.End; p++ {
			if !used[p] {
				return p, true
			}
		}
	}
	return 0, false
}
