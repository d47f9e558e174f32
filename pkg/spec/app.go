package spec

import (
	"time"

	"github.com/cuemby/helmsman/pkg/health"
	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
)

// AppSpec is the Application run-spec variant: a singleton, replicated
// container specification.
type AppSpec struct {
	Path pathid.Path

	Cmd   string
	Image string

	Cpus float64
	Mem  int64 // bytes
	Disk int64 // bytes
	Gpus int

	PortDefinitions []PortDefinition
	PortMappings    []PortMapping // non-empty iff the app runs in container-network mode
	RequirePorts    bool          // host-network mode only: forbids dynamic (0) declared ports

	HealthChecks    []health.Check
	ReadinessChecks []ReadinessCheck

	Constraints  []Constraint
	Deps         []pathid.Path
	Upgrade      UpgradeStrategy
	Backoff      BackoffStrategy
	Unreachable  instance.UnreachableStrategy
	KillSelect   instance.KillSelection
	ResidencyPtr *Residency

	TaskKillGracePeriod time.Duration

	Env    map[string]string
	Labels map[string]string

	AcceptedResourceRoles []string
	EnvPrefix             string

	Instances int

	// Artifacts lists URL-to-local-path fetches the ResolveArtifacts
	// step must complete before the app's dependent step may proceed
	// (spec section 4.7's "Ordering rules").
	Artifacts []ArtifactRef

	VInfo     VersionInfo
	VersionAt time.Time
}

// ArtifactRef is a single declared fetch: a remote URL materialized at
// a local path before launch.
type ArtifactRef struct {
	URL  string
	Dest string
}

var _ RunSpec = (*AppSpec)(nil)

func (a *AppSpec) ID() pathid.Path               { return a.Path }
func (a *AppSpec) Dependencies() []pathid.Path    { return a.Deps }
func (a *AppSpec) DesiredInstances() int          { return a.Instances }
func (a *AppSpec) IsResident() bool               { return a.ResidencyPtr != nil }
func (a *AppSpec) Version() time.Time             { return a.VersionAt }
func (a *AppSpec) VersionInfo() VersionInfo        { return a.VInfo }

// ContainerNetwork reports whether the app declares container-network
// port mappings rather than host port definitions.
func (a *AppSpec) ContainerNetwork() bool {
	return len(a.PortMappings) > 0
}

// EquivalentConfig reports whether two app versions are configuration-
// equivalent for restart purposes: same image/cmd/resources/env/ports/
// artifacts and the same number of health checks (their contents are
// not compared). Scale-only fields (Instances) are deliberately
// excluded, matching the planner's "pure scale change never produces a
// RestartApplication" rule (spec section 4.7 rule 4).
func (a *AppSpec) EquivalentConfig(other *AppSpec) bool {
	if other == nil {
		return false
	}
	if a.Cmd != other.Cmd || a.Image != other.Image {
		return false
	}
	if a.Cpus != other.Cpus || a.Mem != other.Mem || a.Disk != other.Disk || a.Gpus != other.Gpus {
		return false
	}
	if !portDefsEqual(a.PortDefinitions, other.PortDefinitions) {
		return false
	}
	if !portMapsEqual(a.PortMappings, other.PortMappings) {
		return false
	}
	if a.RequirePorts != other.RequirePorts {
		return false
	}
	if len(a.HealthChecks) != len(other.HealthChecks) {
		return false
	}
	if !envEqual(a.Env, other.Env) {
		return false
	}
	if !artifactsEqual(a.Artifacts, other.Artifacts) {
		return false
	}
	return true
}

func artifactsEqual(a, b []ArtifactRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func portDefsEqual(a, b []PortDefinition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Port != b[i].Port || a[i].Protocol != b[i].Protocol {
			return false
		}
	}
	return true
}

func portMapsEqual(a, b []PortMapping) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].ContainerPort != b[i].ContainerPort ||
			!intPtrEqual(a[i].HostPort, b[i].HostPort) || a[i].Protocol != b[i].Protocol {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func envEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
