package spec

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/pathid"
	"gopkg.in/yaml.v3"
)

// groupDoc is the on-disk YAML shape accepted by LoadGroupFile. It is
// intentionally a thin, orchestrator-facing document — the HTTP/JSON
// request surface itself stays out of scope (spec section 1); this is
// the file-based input the CLI's apply command reads.
type groupDoc struct {
	Path         string              `yaml:"path"`
	Dependencies []string            `yaml:"dependencies"`
	Groups       []groupDoc          `yaml:"groups"`
	Apps         []appDoc            `yaml:"apps"`
	Pods         []podDoc            `yaml:"pods"`
}

type appDoc struct {
	ID            string            `yaml:"id"`
	Cmd           string            `yaml:"cmd"`
	Image         string            `yaml:"image"`
	Cpus          float64           `yaml:"cpus"`
	MemMB         int64             `yaml:"memMB"`
	DiskMB        int64             `yaml:"diskMB"`
	Instances     int               `yaml:"instances"`
	Dependencies  []string          `yaml:"dependencies"`
	Env           map[string]string `yaml:"env"`
	Labels        map[string]string `yaml:"labels"`
	MinHealth     *float64          `yaml:"minimumHealthCapacity"`
	MaxOver       *float64          `yaml:"maximumOverCapacity"`
	Resident      bool              `yaml:"residency"`
}

type podDoc struct {
	ID        string   `yaml:"id"`
	Instances int      `yaml:"instances"`
	Networks  []string `yaml:"networks"`
}

// LoadGroupFile reads a YAML group-tree document from path and builds
// the in-memory Group it describes.
func LoadGroupFile(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spec: reading group file: %w", err)
	}
	var doc groupDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("spec: parsing group file: %w", err)
	}
	if doc.Path == "" {
		doc.Path = "/"
	}
	g, err := buildGroup(doc, pathid.Root)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func buildGroup(doc groupDoc, base pathid.Path) (*Group, error) {
	p := pathid.New(doc.Path).CanonicalizeAgainst(base)
	g := NewGroup(p)
	for _, dep := range doc.Dependencies {
		g.Dependencies = append(g.Dependencies, pathid.New(dep).CanonicalizeAgainst(p))
	}

	for _, a := range doc.Apps {
		spec, err := buildApp(a, p)
		if err != nil {
			return nil, err
		}
		g.Apps[spec.ID().Base()] = spec
	}
	for _, pd := range doc.Pods {
		spec := buildPod(pd, p)
		g.Pods[spec.ID().Base()] = spec
	}
	for _, cd := range doc.Groups {
		child, err := buildGroup(cd, p)
		if err != nil {
			return nil, err
		}
		g.Groups[child.Path.Base()] = child
	}
	return g, nil
}

func buildApp(a appDoc, base pathid.Path) (*AppSpec, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("spec: app with empty id under %s", base)
	}
	upgrade := DefaultUpgradeStrategy()
	if a.MinHealth != nil {
		upgrade.MinimumHealthCapacity = *a.MinHealth
	}
	if a.MaxOver != nil {
		upgrade.MaximumOverCapacity = *a.MaxOver
	}

	spec := &AppSpec{
		Path:        pathid.New(a.ID).CanonicalizeAgainst(base),
		Cmd:         a.Cmd,
		Image:       a.Image,
		Cpus:        a.Cpus,
		Mem:         a.MemMB * 1024 * 1024,
		Disk:        a.DiskMB * 1024 * 1024,
		Instances:   a.Instances,
		Env:         a.Env,
		Labels:      a.Labels,
		Upgrade:     upgrade,
		Backoff:     DefaultBackoffStrategy(),
		Unreachable: instance.DefaultUnreachableStrategy(),
		KillSelect:  DefaultKillSelection(),
		VersionAt:   time.Now(),
	}
	if a.Resident {
		spec.ResidencyPtr = &Residency{}
	}
	for _, dep := range a.Dependencies {
		spec.Deps = append(spec.Deps, pathid.New(dep).CanonicalizeAgainst(spec.Path))
	}
	return spec, nil
}

func buildPod(pd podDoc, base pathid.Path) *PodSpec {
	return &PodSpec{
		Path:      pathid.New(pd.ID).CanonicalizeAgainst(base),
		Instances: pd.Instances,
		Networks:  pd.Networks,
		VersionAt: time.Now(),
	}
}
