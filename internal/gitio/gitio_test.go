package gitio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statisticsnorway/blueprint/internal/gittest"
	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

func openRepo(t *testing.T, g *gittest.Repo) *Repository {
	t.Helper()
	r, err := Open(g.Dir)
	require.NoError(t, err)
	return r
}

func TestDiff_RootCommitAddsEverything(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, []string{"/x"})
	g.WriteNotebook("dir/b.ipynb", []string{"/x"}, nil)
	c1 := g.Commit("initial")

	r := openRepo(t, g)
	diff, err := r.Diff(c1)
	require.NoError(t, err)
	require.Len(t, diff, 2)
	for _, p := range []string{"a.ipynb", "dir/b.ipynb"} {
		ch, ok := diff.Lookup(p)
		require.True(t, ok, p)
		assert.Equal(t, vcs.Add, ch.Type)
		assert.NotEmpty(t, ch.NewBlobID)
	}
}

func TestDiff_ModifyLeavesOthersUnchanged(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, []string{"/x"})
	g.WriteNotebook("b.ipynb", []string{"/x"}, nil)
	g.Commit("initial")
	g.WriteNotebook("a.ipynb", nil, []string{"/x", "/y"})
	c2 := g.Commit("edit a")

	r := openRepo(t, g)
	diff, err := r.Diff(c2)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	ch, ok := diff.Lookup("a.ipynb")
	require.True(t, ok)
	assert.Equal(t, vcs.Modify, ch.Type)
	assert.NotEqual(t, ch.OldBlobID, ch.NewBlobID)
	_, ok = diff.Lookup("b.ipynb")
	assert.False(t, ok)
}

func TestDiff_DeleteAndRename(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("gone.ipynb", nil, []string{"/gone"})
	g.WriteNotebook("old.ipynb", []string{"/in"}, []string{"/out"}, "print('a fairly long cell so rename detection has content')\n")
	c1 := g.Commit("initial")
	g.Remove("gone.ipynb")
	g.Move("old.ipynb", "new/renamed.ipynb")
	c2 := g.Commit("delete and rename")

	r := openRepo(t, g)
	oldBlob, err := r.BlobID(c1, "gone.ipynb")
	require.NoError(t, err)

	diff, err := r.Diff(c2)
	require.NoError(t, err)

	del, ok := diff.Lookup("gone.ipynb")
	require.True(t, ok)
	assert.Equal(t, vcs.Delete, del.Type)
	assert.Equal(t, oldBlob, del.OldBlobID)

	ren, ok := diff.Lookup("new/renamed.ipynb")
	require.True(t, ok)
	assert.Equal(t, vcs.Rename, ren.Type)
	assert.Equal(t, "old.ipynb", ren.OldPath)

	deleted := diff.Deleted()
	require.Len(t, deleted, 1)
	assert.Equal(t, "gone.ipynb", deleted[0].OldPath)
}

func TestCheckoutNamedCommit(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, []string{"/v1"})
	c1 := g.Commit("v1")
	g.WriteNotebook("a.ipynb", nil, []string{"/v2"})
	g.WriteNotebook("b.ipynb", nil, nil)
	g.Commit("v2")

	r := openRepo(t, g)
	require.NoError(t, r.Checkout(c1))

	content, err := os.ReadFile(filepath.Join(r.WorkDir(), "a.ipynb"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "/v1")
	_, err = os.Stat(filepath.Join(r.WorkDir(), "b.ipynb"))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveAndMetadata(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, nil)
	c1 := g.Commit("first line\n\nbody")

	r := openRepo(t, g)
	id, err := r.Resolve("HEAD")
	require.NoError(t, err)
	assert.Equal(t, c1, id)

	_, err = r.Resolve("0123456789012345678901234567890123456789")
	assert.True(t, errors.Is(err, vcs.ErrNotFound))

	meta, err := r.CommitMetadata(c1)
	require.NoError(t, err)
	assert.Equal(t, "Ola Nordmann", meta.AuthorName)
	assert.Equal(t, "kari@example.com", meta.CommitterEmail)
	assert.True(t, meta.CommittedAt.After(meta.AuthoredAt))
	assert.Equal(t, "first line\n\nbody", meta.Message)
}

func TestBlobIDAndContent(t *testing.T) {
	g := gittest.New(t)
	nb := gittest.Notebook([]string{"/a"}, nil)
	g.Write("x/a.ipynb", nb)
	c1 := g.Commit("one")

	r := openRepo(t, g)
	blob, err := r.BlobID(c1, "x/a.ipynb")
	require.NoError(t, err)
	content, err := r.BlobContent(blob)
	require.NoError(t, err)
	assert.Equal(t, nb, content)

	_, err = r.BlobID(c1, "missing.ipynb")
	assert.True(t, errors.Is(err, vcs.ErrNotFound))
	_, err = r.BlobContent("not-a-hash")
	assert.True(t, errors.Is(err, vcs.ErrNotFound))
}

func TestRange_OldestFirst(t *testing.T) {
	g := gittest.New(t)
	var ids []string
	for i := 0; i < 4; i++ {
		g.Write("f.txt", []byte{byte('a' + i)})
		ids = append(ids, g.Commit("c"))
	}
	r := openRepo(t, g)

	got, err := r.Range(ids[0], ids[3])
	require.NoError(t, err)
	assert.Equal(t, ids[1:], got, "from is excluded, to is included")

	got, err = r.Range("", ids[2])
	require.NoError(t, err)
	assert.Equal(t, ids[:3], got)

	got, err = r.Range(ids[3], ids[3])
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRange_ParentsBeforeChildrenWithSkewedClock(t *testing.T) {
	g := gittest.New(t)
	g.Write("f.txt", []byte("a"))
	c1 := g.Commit("one")
	g.SetClock(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))
	g.Write("f.txt", []byte("b"))
	c2 := g.Commit("two, committed with a clock behind its parent")
	g.Write("f.txt", []byte("c"))
	c3 := g.Commit("three")
	r := openRepo(t, g)

	got, err := r.Range("", c3)
	require.NoError(t, err)
	assert.Equal(t, []string{c1, c2, c3}, got)

	got, err = r.Range(c1, c3)
	require.NoError(t, err)
	assert.Equal(t, []string{c2, c3}, got)
}

func TestCheckout_RefusesUncommittedChanges(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, []string{"/v1"})
	c1 := g.Commit("v1")
	g.WriteNotebook("a.ipynb", nil, []string{"/v2"})
	g.Commit("v2")

	edited := gittest.Notebook(nil, []string{"/local/edit"})
	g.Write("a.ipynb", edited)
	r := openRepo(t, g)

	err := r.Checkout(c1)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrDirty)
	assert.Contains(t, err.Error(), "a.ipynb")

	content, err := os.ReadFile(filepath.Join(g.Dir, "a.ipynb"))
	require.NoError(t, err)
	assert.Equal(t, edited, content)
}

func TestCheckout_KeepsUntrackedFiles(t *testing.T) {
	g := gittest.New(t)
	g.WriteNotebook("a.ipynb", nil, []string{"/v1"})
	c1 := g.Commit("v1")
	g.WriteNotebook("a.ipynb", nil, []string{"/v2"})
	g.Commit("v2")

	g.Write("notes.txt", []byte("scratch"))
	r := openRepo(t, g)
	require.NoError(t, r.Checkout(c1))

	content, err := os.ReadFile(filepath.Join(g.Dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "scratch", string(content))
}

func TestStore_CloneFetchAndBlob(t *testing.T) {
	remote := gittest.New(t)
	remote.WriteNotebook("a.ipynb", nil, []string{"/x"})
	c1 := remote.Commit("one")

	s, err := NewStore(StoreConfig{Dir: t.TempDir(), MaxOpen: 2})
	require.NoError(t, err)
	ctx := context.Background()

	r, err := s.Open(ctx, remote.Dir)
	require.NoError(t, err)
	assert.Equal(t, s.Dir(remote.Dir), r.WorkDir())
	require.NoError(t, r.Checkout(c1))

	remote.WriteNotebook("b.ipynb", []string{"/x"}, nil)
	c2 := remote.Commit("two")

	r, err = s.Open(ctx, remote.Dir)
	require.NoError(t, err)
	require.NoError(t, r.Checkout(c2))
	_, err = os.Stat(filepath.Join(r.WorkDir(), "b.ipynb"))
	require.NoError(t, err)

	blob, err := r.BlobID(c2, "b.ipynb")
	require.NoError(t, err)
	content, err := s.Blob(ctx, model.RepositoryID(remote.Dir), blob)
	require.NoError(t, err)
	assert.Contains(t, string(content), "%%input")

	_, err = s.Blob(ctx, "unknown", blob)
	assert.True(t, errors.Is(err, vcs.ErrNotFound))
}

func TestLinkName(t *testing.T) {
	assert.Equal(t, "github.com/statisticsnorway/blueprint", LinkName("https://github.com/statisticsnorway/blueprint.git"))
	assert.Equal(t, "", LinkName("/tmp/local/repo"))
	assert.Equal(t, "", LinkName("https://github.com/"))
}
