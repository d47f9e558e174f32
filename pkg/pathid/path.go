// Package pathid implements the slash-separated absolute path identifier
// used to name groups, applications and pods in the group tree (spec
// section "Path identifier"). A Path always starts with "/" and never
// ends with one except for the root itself.
package pathid

import (
	"strings"
)

// Root is the path identifying the root group.
const Root = Path("/")

// Path is a slash-separated absolute identifier, e.g. "/prod/web/api".
type Path string

// New normalizes s into a Path: ensures a leading slash, collapses
// repeated slashes, and strips a trailing slash (except for the root).
func New(s string) Path {
	if s == "" {
		return Root
	}
	parts := splitNonEmpty(s)
	if len(parts) == 0 {
		return Root
	}
	return Path("/" + strings.Join(parts, "/"))
}

func splitNonEmpty(s string) []string {
	raw := strings.Split(s, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String returns the canonical string form.
func (p Path) String() string { return string(p) }

// IsRoot reports whether p identifies the root group.
func (p Path) IsRoot() bool { return p == Root || p == "" }

// Components splits p into its non-empty segments.
func (p Path) Components() []string { return splitNonEmpty(string(p)) }

// Parent returns the path of p's enclosing group. The parent of the
// root is the root itself.
func (p Path) Parent() Path {
	parts := p.Components()
	if len(parts) <= 1 {
		return Root
	}
	return New(strings.Join(parts[:len(parts)-1], "/"))
}

// Base returns the final path segment ("api" for "/prod/web/api"), or
// "" for the root.
func (p Path) Base() string {
	parts := p.Components()
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Child returns the path of a direct child named name.
func (p Path) Child(name string) Path {
	if p.IsRoot() {
		return New(name)
	}
	return New(string(p) + "/" + name)
}

// CanonicalizeAgainst resolves p, which may be relative, against base.
// A Path already starting with "/" is returned unchanged (it is
// already absolute); anything else is joined onto base.
func (p Path) CanonicalizeAgainst(base Path) Path {
	s := string(p)
	if strings.HasPrefix(s, "/") {
		return New(s)
	}
	return New(string(base) + "/" + s)
}

// IsChildOf reports whether p is a direct or transitive descendant of
// other.
func (p Path) IsChildOf(other Path) bool {
	if other.IsRoot() {
		return !p.IsRoot()
	}
	return strings.HasPrefix(string(p)+"/", string(other)+"/")
}

// Depth returns the number of path components (0 for root).
func (p Path) Depth() int { return len(p.Components()) }

// Less provides a total order over paths: shorter depth first, then
// lexicographic, matching the ordering used when emitting deployment
// steps deterministically within a topological layer.
func (p Path) Less(other Path) bool {
	if p.Depth() != other.Depth() {
		return p.Depth() < other.Depth()
	}
	return string(p) < string(other)
}
