package matcher

import (
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

type scalarDemand struct {
	name  string
	value float64
}

// scalarDemands lists the non-zero scalar resource demands of app, in
// the fixed cpus/mem/disk/gpus order (section 4.1 step 2).
func scalarDemands(app *spec.AppSpec) []scalarDemand {
	var out []scalarDemand
	if app.Cpus > 0 {
		out = append(out, scalarDemand{"cpus", app.Cpus})
	}
	if app.Mem > 0 {
		out = append(out, scalarDemand{"mem", float64(app.Mem)})
	}
	if app.Disk > 0 && !app.IsResident() {
		// Resident specs consume disk via matchVolume instead of the
		// generic scalar pool.
		out = append(out, scalarDemand{"disk", float64(app.Disk)})
	}
	if app.Gpus > 0 {
		out = append(out, scalarDemand{"gpus", float64(app.Gpus)})
	}
	return out
}

// filterByRoles returns a copy of offer containing only role-tagged
// resources whose role is in acceptedRoles (section 4.1 step 1). An
// empty acceptedRoles accepts every role.
func filterByRoles(offer offers.Offer, acceptedRoles []string) offers.Offer {
	if len(acceptedRoles) == 0 {
		return offer
	}
	allowed := make(map[string]bool, len(acceptedRoles))
	for _, r := range acceptedRoles {
		allowed[r] = true
	}

	out := offer
	out.Scalars = make(map[string][]offers.Resource, len(offer.Scalars))
	for name, slices := range offer.Scalars {
		for _, r := range slices {
			if allowed[r.Role] {
				out.Scalars[name] = append(out.Scalars[name], r)
			}
		}
	}
	var ports []offers.PortRange
	for _, pr := range offer.Ports {
		if allowed[pr.Role] {
			ports = append(ports, pr)
		}
	}
	out.Ports = ports

	var disks []offers.Disk
	for _, d := range offer.Disks {
		if allowed[d.Role] {
			disks = append(disks, d)
		}
	}
	out.Disks = disks
	return out
}

// consumeScalar greedily consumes value units of the named resource
// from offer's role-tagged slices, unreserved pool first for
// non-reserved workloads (section 4.1's tie-break rule), preserving the
// role of whichever slice(s) it draws from. It reports the role it
// settled on and the amount consumed; mixed-role consumption is
// collapsed to the role of the largest contributing slice, since a
// TaskInfo names a single role per resource.
func consumeScalar(offer offers.Offer, name string, value float64) (offers.Resource, bool) {
	slices := append([]offers.Resource(nil), offer.Scalars[name]...)
	sortUnreservedFirst(slices)

	var total float64
	var chosenRole string
	var chosenAmount float64
	for _, s := range slices {
		if total >= value {
			break
		}
		take := s.Value
		if total+take > value {
			take = value - total
		}
		if take > chosenAmount {
			chosenAmount = take
			chosenRole = s.Role
		}
		total += take
	}
	if total+1e-9 < value {
		return offers.Resource{}, false
	}
	return offers.Resource{Role: chosenRole, Value: value}, true
}

// sortUnreservedFirst orders slices so the unreserved ("*") role is
// tried before any reserved role, matching section 4.1's tie-break:
// "prefer the unreserved pool first for non-reserved workloads".
func sortUnreservedFirst(slices []offers.Resource) {
	i := 0
	for j, s := range slices {
		if s.Role == "*" || s.Role == "" {
			slices[i], slices[j] = slices[j], slices[i]
			i++
		}
	}
}
