package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m := New()
	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{".git/HEAD", false, true},
		{"sub/.ipynb_checkpoints", true, true},
		{"sub/.ipynb_checkpoints/a-checkpoint.ipynb", false, true},
		{"a.ipynb", false, false},
		{"dir/a.ipynb", false, false},
		{".github", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir), tt.path)
	}
}

func TestCallerFolders(t *testing.T) {
	m := New("scratch", "/archive/", "  ")
	assert.True(t, m.Match("scratch", true))
	assert.True(t, m.Match("x/scratch/n.ipynb", false))
	assert.True(t, m.Match("archive/old.ipynb", false))
	assert.False(t, m.Match("scratchpad.ipynb", false))
}

func TestNegationAndAnchors(t *testing.T) {
	m := New()
	m.Add("*.ipynb")
	m.Add("!/keep.ipynb")
	m.Add("# comment")
	m.Add("")

	assert.True(t, m.Match("drop.ipynb", false))
	assert.True(t, m.Match("sub/keep.ipynb", false))
	assert.False(t, m.Match("keep.ipynb", false))
}

func TestForWorkTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("drafts/\n*.bak.ipynb\n"), 0o644))

	m, err := ForWorkTree(dir)
	require.NoError(t, err)
	assert.True(t, m.Match("drafts/x.ipynb", false))
	assert.True(t, m.Match("y.bak.ipynb", false))
	assert.False(t, m.Match("y.ipynb", false))

	m, err = ForWorkTree(t.TempDir())
	require.NoError(t, err)
	assert.False(t, m.Match("drafts/x.ipynb", false))
}
