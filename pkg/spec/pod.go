package spec

import (
	"time"

	"github.com/cuemby/helmsman/pkg/health"
	"github.com/cuemby/helmsman/pkg/pathid"
)

// VolumeMount binds a pod-level shared volume into one container.
type VolumeMount struct {
	Volume   string
	Path     string
	ReadOnly bool
}

// PodVolume is a volume shared across the containers of a single
// pod instance.
type PodVolume struct {
	Name string
	Host string // host path, empty for an ephemeral volume
}

// PodContainer is one container within a pod's ordered sequence.
type PodContainer struct {
	Name  string
	Image string
	Cmd   []string

	Cpus float64
	Mem  int64
	Disk int64

	Endpoints   []PortMapping
	HealthCheck *health.Check
	Mounts      []VolumeMount
	Env         map[string]string
}

// PodSpec is the Pod run-spec variant: an ordered sequence of
// co-scheduled containers sharing a sandbox.
type PodSpec struct {
	Path pathid.Path

	Containers []PodContainer
	Volumes    []PodVolume
	Networks   []string

	Deps       []pathid.Path
	Instances  int
	VInfo      VersionInfo
	VersionAt  time.Time
}

var _ RunSpec = (*PodSpec)(nil)

func (p *PodSpec) ID() pathid.Path            { return p.Path }
func (p *PodSpec) Dependencies() []pathid.Path { return p.Deps }
func (p *PodSpec) DesiredInstances() int       { return p.Instances }
func (p *PodSpec) IsResident() bool            { return false }
func (p *PodSpec) Version() time.Time          { return p.VersionAt }
func (p *PodSpec) VersionInfo() VersionInfo     { return p.VInfo }
