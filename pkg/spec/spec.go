// Package spec implements the declared-state data model from spec
// section 3: Path-addressed Group trees containing App and Pod
// run-specs, their upgrade/backoff/residency strategies, and the
// dependency graph the planner sorts against.
package spec

import (
	"time"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
)

// RunSpec is satisfied by AppSpec and PodSpec — the sum-of-two-variants
// run-specification from the data model.
type RunSpec interface {
	ID() pathid.Path
	Dependencies() []pathid.Path
	DesiredInstances() int
	IsResident() bool
	Version() time.Time
	VersionInfo() VersionInfo
}

// VersionInfo distinguishes a spec change from a scale-only change, per
// the identity rule the planner uses to decide whether a restart is
// warranted (section 4.7).
type VersionInfo struct {
	LastConfigChangeAt time.Time
	LastScalingAt      time.Time
}

// UpgradeStrategy bounds how far a rolling restart may drop below or
// bubble above the declared instance count.
type UpgradeStrategy struct {
	MinimumHealthCapacity float64 // [0,1]
	MaximumOverCapacity   float64 // [0,1]
}

// DefaultUpgradeStrategy matches the common Marathon-flavored default.
func DefaultUpgradeStrategy() UpgradeStrategy {
	return UpgradeStrategy{MinimumHealthCapacity: 1.0, MaximumOverCapacity: 0.0}
}

// BackoffStrategy controls the Launch Queue's per-spec exponential
// backoff on launch failures.
type BackoffStrategy struct {
	BackoffSeconds        time.Duration
	BackoffFactor         float64
	MaxLaunchDelaySeconds time.Duration
}

// DefaultBackoffStrategy matches the common Marathon-flavored default.
func DefaultBackoffStrategy() BackoffStrategy {
	return BackoffStrategy{
		BackoffSeconds:        1 * time.Second,
		BackoffFactor:         1.15,
		MaxLaunchDelaySeconds: 1 * time.Hour,
	}
}

// Residency marks a run-spec as holding persistent reservations or
// volumes. In restart's degenerate window (section 4.6.3's special
// case) its presence makes the controller kill one extra old instance
// up front instead of allowing a one-instance over-capacity bubble; a
// non-zero MaximumOverCapacity still allows bubbles.
type Residency struct {
	RelaunchEscalationTimeout time.Duration
}

// ConstraintKind enumerates the placement constraint operators the
// matcher evaluates (section 4.1 step 4).
type ConstraintKind string

const (
	ConstraintUnique  ConstraintKind = "UNIQUE"
	ConstraintCluster ConstraintKind = "CLUSTER"
	ConstraintGroupBy ConstraintKind = "GROUP_BY"
	ConstraintLike    ConstraintKind = "LIKE"
	ConstraintUnlike  ConstraintKind = "UNLIKE"
	ConstraintMaxPer  ConstraintKind = "MAX_PER"
)

// Constraint is one placement rule evaluated against an offer's
// attributes and the spec's already-running instances.
type Constraint struct {
	Kind  ConstraintKind
	Field string // attribute name, e.g. "hostname" or a custom attribute
	Value string // CLUSTER's val, LIKE/UNLIKE's regex
	N     int    // GROUP_BY's n, MAX_PER's n
}

// PortDefinition is a host-level port an Application declares.
type PortDefinition struct {
	Name     string
	Port     int // 0 means dynamic
	Protocol string
	Labels   map[string]string
}

// PortMapping is a container-network port exposure, used by
// Applications in container-network mode and by Pod containers.
type PortMapping struct {
	Name          string
	ContainerPort int
	HostPort      *int // nil means container-only (no host exposure); *HostPort == 0 means dynamic
	Protocol      string
	Labels        map[string]string
}

// ReadinessCheck is a single deployment-time readiness probe
// definition (section 4.4's "Readiness checks").
type ReadinessCheck struct {
	Name         string
	Protocol     string // "HTTP" or "HTTPS"
	Path         string
	PortName     string
	Interval     time.Duration
	Timeout      time.Duration
	HTTPStatuses []int // any of these is accepted as ready, in addition to 2xx
}

// DefaultKillSelection is the default victim-selection policy for
// scale-down and unreachable re-observation.
func DefaultKillSelection() instance.KillSelection {
	return instance.YoungestFirst
}
