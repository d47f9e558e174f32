// Package offers models the external resource manager's offer/launch
// protocol at the level of abstraction the matcher needs (spec section
// 4.1's inputs/results) and the collaborator interfaces section 6 lists
// as architecturally peripheral: Repository aside, every external
// system the core talks to is abstracted here.
package offers

// Resource is one role-tagged scalar slice of an offer (cpus, mem,
// disk, or gpus).
type Resource struct {
	Role  string
	Value float64
}

// PortRange is a contiguous, role-tagged range of ports in an offer.
type PortRange struct {
	Role  string
	Begin int
	End   int
}

// DiskKind distinguishes the disk resource's persistence semantics.
type DiskKind string

const (
	DiskRoot  DiskKind = "ROOT"
	DiskPath  DiskKind = "PATH"
	DiskMount DiskKind = "MOUNT" // indivisible: must be consumed in full
)

// Disk is a single disk resource offered, possibly already reserved
// for a persistence-id (section 4.1 step 5).
type Disk struct {
	Role          string
	Kind          DiskKind
	Size          int64 // bytes
	PersistenceID string // non-empty if reserved for a specific volume
	Labels        map[string]string
}

// Offer is a single resource advertisement from the external manager,
// scoped to an agent (data model glossary: "Offer").
type Offer struct {
	ID         string
	AgentID    string
	Host       string
	Attributes map[string]string

	// Scalars is keyed by resource name ("cpus", "mem", "disk", "gpus");
	// each slice is role-tagged, lowest-role-preference first is not
	// assumed — the matcher decides tie-breaks (section 4.1's
	// "Tie-breaks" paragraph).
	Scalars map[string][]Resource
	Ports   []PortRange
	Disks   []Disk
}

// ResourceSelection names the concrete portions of an offer the
// matcher chose to consume, preserving each portion's role (section
// 4.1 step 2: "never silently re-role").
type ResourceSelection struct {
	Scalars map[string]Resource // resource name -> consumed {role, value}
	Ports   []PortBinding
	Disk    *Disk
}

// PortBinding is one allocated host port in declared order; HostPort
// is nil for a container-only port (section 4.1 step 3).
type PortBinding struct {
	Name     string
	HostPort *int
	Protocol string
}
