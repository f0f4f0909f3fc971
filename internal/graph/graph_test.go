package graph

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statisticsnorway/blueprint/internal/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func notebook(blob string, inputs, outputs []string) *model.Notebook {
	return &model.Notebook{
		BlobID:  blob,
		Inputs:  model.NewDatasetSet(inputs...),
		Outputs: model.NewDatasetSet(outputs...),
	}
}

func buildCommit(t *testing.T, uri, id string, files ...*model.CommittedFile) (*model.Repository, *model.Commit) {
	t.Helper()
	when := time.Date(2020, 5, 4, 12, 0, 0, 0, time.UTC)
	c := &model.Commit{
		ID:             id,
		AuthorName:     "Ola",
		AuthorEmail:    "ola@example.com",
		AuthoredAt:     when,
		CommitterName:  "Kari",
		CommitterEmail: "kari@example.com",
		CommittedAt:    when.Add(time.Hour),
		Message:        "message " + id,
	}
	for _, f := range files {
		require.NoError(t, c.Attach(f))
	}
	r := model.NewRepository(uri)
	r.AddCommit(c)
	return r, c
}

func skattFamilie(t *testing.T, uri, id string) (*model.Repository, *model.Commit) {
	return buildCommit(t, uri, id,
		&model.CommittedFile{Change: model.FileCreated, Path: "Skatt.ipynb", Notebook: notebook("b-skatt", nil, []string{"/skatt/en"})},
		&model.CommittedFile{Change: model.FileCreated, Path: "Familie.ipynb", Notebook: notebook("b-familie", []string{"/skatt/en"}, []string{"/familie"})},
	)
}

func TestUpsertCommit_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, commit := skattFamilie(t, "https://example.com/a", "c1")

	require.NoError(t, db.UpsertCommit(ctx, repo, commit))
	once, err := db.Stats(ctx)
	require.NoError(t, err)

	require.NoError(t, db.UpsertCommit(ctx, repo, commit))
	twice, err := db.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	// repository, commit, two notebooks, two datasets
	assert.Equal(t, int64(6), once.Nodes)
	// contains, two creates, one produces + one consumes + one produces
	assert.Equal(t, int64(6), once.Edges)
	assert.Equal(t, int64(2), once.ByKind[KindNotebook])
}

func TestUpsertCommit_SharedNotebookAndDatasetAcrossRepositories(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	r1, c1 := buildCommit(t, "https://example.com/a", "c1",
		&model.CommittedFile{Change: model.FileCreated, Path: "x.ipynb", Notebook: notebook("same", []string{"/in"}, nil)})
	r2, c2 := buildCommit(t, "https://example.com/b", "c9",
		&model.CommittedFile{Change: model.FileCreated, Path: "other/y.ipynb", Notebook: notebook("same", []string{"/in"}, nil)})

	require.NoError(t, db.UpsertCommit(ctx, r1, c1))
	require.NoError(t, db.UpsertCommit(ctx, r2, c2))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ByKind[KindNotebook])
	assert.Equal(t, int64(1), stats.ByKind[KindDataset])
	assert.Equal(t, int64(2), stats.ByKind[KindRepository])
	assert.Equal(t, int64(2), stats.ByKind[KindCommit])

	uses, err := db.DatasetUsage(ctx, "/in/")
	require.NoError(t, err)
	require.Len(t, uses, 2)
	assert.Equal(t, "https://example.com/a", uses[0].RepositoryURI)
	assert.Equal(t, "x.ipynb", uses[0].Path)
	assert.Equal(t, "other/y.ipynb", uses[1].Path)
	assert.False(t, uses[1].Produces)
	assert.Equal(t, model.FileCreated, uses[1].Change)
}

func TestUpsertCommit_ReclassificationConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, commit := skattFamilie(t, "https://example.com/a", "c1")
	require.NoError(t, db.UpsertCommit(ctx, repo, commit))
	before, err := db.Stats(ctx)
	require.NoError(t, err)

	_, changed := buildCommit(t, "https://example.com/a", "c1",
		&model.CommittedFile{Change: model.FileUpdated, Path: "Skatt.ipynb", Notebook: notebook("b-skatt", nil, []string{"/skatt/en"})},
		&model.CommittedFile{Change: model.FileCreated, Path: "New.ipynb", Notebook: notebook("b-new", nil, nil)},
	)
	err = db.UpsertCommit(ctx, repo, changed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, EdgeCreates, cerr.Stored)
	assert.Equal(t, EdgeUpdates, cerr.Wanted)
	assert.Equal(t, "Skatt.ipynb", cerr.Path)

	after, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a conflicting upsert writes nothing")

	_, otherBlob := buildCommit(t, "https://example.com/a", "c1",
		&model.CommittedFile{Change: model.FileCreated, Path: "Skatt.ipynb", Notebook: notebook("b-other", nil, nil)})
	assert.True(t, errors.Is(db.UpsertCommit(ctx, repo, otherBlob), ErrConflict))
}

func TestCommit_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, commit := buildCommit(t, "https://example.com/a", "c2",
		&model.CommittedFile{Change: model.FileUpdated, Path: "a.ipynb", Notebook: notebook("b1", []string{"/in"}, []string{"/out"})},
		&model.CommittedFile{Change: model.FileUnchanged, Path: "b.ipynb", Notebook: notebook("b2", []string{"/out"}, nil)},
		&model.CommittedFile{Change: model.FileDeleted, Path: "c.ipynb", Notebook: notebook("b3", nil, nil)},
	)
	require.NoError(t, db.UpsertCommit(ctx, repo, commit))

	got, err := db.Commit(ctx, repo.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, "Ola", got.AuthorName)
	assert.Equal(t, "kari@example.com", got.CommitterEmail)
	assert.True(t, got.CommittedAt.Equal(commit.CommittedAt))
	assert.Equal(t, "message c2", got.Message)

	files := got.Files()
	require.Len(t, files, 3)
	assert.Equal(t, model.FileUpdated, files[0].Change)
	assert.Equal(t, "b1", files[0].Notebook.BlobID)
	assert.Equal(t, []string{"/in"}, files[0].Notebook.Inputs.Paths())
	assert.Equal(t, []string{"/out"}, files[0].Notebook.Outputs.Paths())
	assert.Equal(t, model.FileUnchanged, files[1].Change)
	assert.Equal(t, model.FileDeleted, files[2].Change)
	assert.Equal(t, "b3", files[2].Notebook.BlobID)
}

func TestQueries_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, commit := skattFamilie(t, "https://example.com/a", "c1")
	require.NoError(t, db.UpsertCommit(ctx, repo, commit))

	_, err := db.Repository(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = db.Commits(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = db.Commit(ctx, repo.ID, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = db.Commit(ctx, "nope", "c1")
	assert.True(t, errors.Is(err, ErrNotFound))

	n, err := db.GetNode(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestRepositoriesAndCommits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		repo, commit := skattFamilie(t, "https://example.com/b", id)
		require.NoError(t, db.UpsertCommit(ctx, repo, commit))
	}
	repo, commit := skattFamilie(t, "https://example.com/a", "c1")
	require.NoError(t, db.UpsertCommit(ctx, repo, commit))

	repos, err := db.Repositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "https://example.com/a", repos[0].URI)

	commits, err := db.Commits(ctx, model.RepositoryID("https://example.com/b"))
	require.NoError(t, err)
	assert.Len(t, commits, 2)

	node, err := db.GetNode(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, KindRepository, node.Kind)
	assert.Equal(t, "https://example.com/a", node.Payload["uri"])

	edges, err := db.GetEdges(ctx, repo.ID, EdgeContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.CommitNodeID(repo.ID, "c1"), edges[0].Dst)
}

func TestPurgeRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	r1, c1 := skattFamilie(t, "https://example.com/a", "c1")
	r2, c2 := skattFamilie(t, "https://example.com/b", "c1")
	require.NoError(t, db.UpsertCommit(ctx, r1, c1))
	require.NoError(t, db.UpsertCommit(ctx, r2, c2))

	require.NoError(t, db.PurgeRepository(ctx, r1.ID))
	_, err := db.Repository(ctx, r1.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	got, err := db.Commit(ctx, r2.ID, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Files(), 2)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ByKind[KindRepository])
	assert.Equal(t, int64(2), stats.ByKind[KindNotebook])

	assert.True(t, errors.Is(db.PurgeRepository(ctx, r1.ID), ErrNotFound))
}

func TestUpsertCommit_ConcurrentWriters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo, commit := skattFamilie(t, "https://example.com/r", string(rune('a'+i)))
			errs <- db.UpsertCommit(ctx, repo, commit)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	commits, err := db.Commits(ctx, model.RepositoryID("https://example.com/r"))
	require.NoError(t, err)
	assert.Len(t, commits, 8)
}
