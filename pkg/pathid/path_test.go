package pathid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected Path
	}{
		{name: "empty is root", in: "", expected: Root},
		{name: "bare slash is root", in: "/", expected: Root},
		{name: "simple path", in: "/prod/web/api", expected: Path("/prod/web/api")},
		{name: "no leading slash gets one", in: "prod/web", expected: Path("/prod/web")},
		{name: "collapses repeated slashes", in: "//prod//web/", expected: Path("/prod/web")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.in))
		})
	}
}

func TestParent(t *testing.T) {
	tests := []struct {
		name     string
		in       Path
		expected Path
	}{
		{name: "root has itself as parent", in: Root, expected: Root},
		{name: "top-level child's parent is root", in: Path("/web"), expected: Root},
		{name: "nested path", in: Path("/prod/web/api"), expected: Path("/prod/web")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.in.Parent())
		})
	}
}

func TestChild(t *testing.T) {
	assert.Equal(t, Path("/web"), Root.Child("web"))
	assert.Equal(t, Path("/prod/web"), Path("/prod").Child("web"))
}

func TestCanonicalizeAgainst(t *testing.T) {
	base := Path("/prod")
	assert.Equal(t, Path("/prod/web"), Path("web").CanonicalizeAgainst(base))
	assert.Equal(t, Path("/other/web"), Path("/other/web").CanonicalizeAgainst(base))
}

func TestIsChildOf(t *testing.T) {
	assert.True(t, Path("/prod/web/api").IsChildOf(Path("/prod")))
	assert.True(t, Path("/prod/web").IsChildOf(Root))
	assert.False(t, Path("/prod").IsChildOf(Path("/prod/web")))
	assert.False(t, Root.IsChildOf(Root))
}

func TestLess(t *testing.T) {
	assert.True(t, Path("/a").Less(Path("/a/b")))
	assert.True(t, Path("/a").Less(Path("/b")))
	assert.False(t, Path("/b").Less(Path("/a")))
}
