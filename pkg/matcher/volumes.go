package matcher

import (
	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

// matchVolume implements section 4.1 step 5 for resident specs: match
// a reserved disk carrying the spec's persistence-id/labels, or accept
// an unreserved MOUNT disk iff it is fully consumed (mount disks are
// indivisible).
func matchVolume(app *spec.AppSpec, offer offers.Offer) (*offers.Disk, bool, string) {
	persistenceID := app.Path.String()

	for i := range offer.Disks {
		d := offer.Disks[i]
		if d.PersistenceID == persistenceID {
			return &d, true, ""
		}
	}

	for i := range offer.Disks {
		d := offer.Disks[i]
		if d.PersistenceID != "" {
			continue
		}
		if d.Kind == offers.DiskMount && d.Size == app.Disk {
			return &d, true, ""
		}
		if d.Kind != offers.DiskMount && d.Size >= app.Disk {
			return &d, true, ""
		}
	}

	return nil, false, "no reserved or consumable disk available for resident spec"
}
