// Package lineage answers read queries over the stored graph: commit
// listings, notebook snapshots and dependency DAGs between notebooks that
// share datasets.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/statisticsnorway/blueprint/internal/graph"
	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// ErrNotFound is returned for unknown repositories, commits, notebooks and
// datasets.
var ErrNotFound = errors.New("not found")

// Reader is the read side of the graph store.
type Reader interface {
	Repositories(ctx context.Context) ([]*model.Repository, error)
	Repository(ctx context.Context, repositoryID string) (*model.Repository, error)
	Commits(ctx context.Context, repositoryID string) ([]*model.Commit, error)
	Commit(ctx context.Context, repositoryID, commitID string) (*model.Commit, error)
	DatasetUsage(ctx context.Context, path string) ([]graph.DatasetUse, error)
}

// BlobReader reads notebook content from version control.
type BlobReader interface {
	Blob(ctx context.Context, repositoryID, blobID string) ([]byte, error)
}

// Engine runs lineage queries.
type Engine struct {
	graph Reader
	blobs BlobReader
}

// New returns an Engine. blobs may be nil, in which case content lookups
// report ErrNotFound.
func New(r Reader, blobs BlobReader) *Engine {
	return &Engine{graph: r, blobs: blobs}
}

func wrap(err error) error {
	if errors.Is(err, graph.ErrNotFound) || errors.Is(err, vcs.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// Repositories lists every known repository.
func (e *Engine) Repositories(ctx context.Context) ([]RepositorySummary, error) {
	repos, err := e.graph.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RepositorySummary, 0, len(repos))
	for _, r := range repos {
		out = append(out, RepositorySummary{ID: r.ID, URI: r.URI})
	}
	return out, nil
}

// Commits lists a repository's commits, most recent first by committed
// time, then authored time.
func (e *Engine) Commits(ctx context.Context, repositoryID string) ([]CommitSummary, error) {
	commits, err := e.graph.Commits(ctx, repositoryID)
	if err != nil {
		return nil, wrap(err)
	}
	sort.Slice(commits, func(i, j int) bool {
		a, b := commits[i], commits[j]
		if !a.CommittedAt.Equal(b.CommittedAt) {
			return a.CommittedAt.After(b.CommittedAt)
		}
		if !a.AuthoredAt.Equal(b.AuthoredAt) {
			return a.AuthoredAt.After(b.AuthoredAt)
		}
		return a.ID < b.ID
	})
	out := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		out = append(out, summarizeCommit(c))
	}
	return out, nil
}

// Commit returns a commit with its files grouped by classification.
func (e *Engine) Commit(ctx context.Context, repositoryID, commitID string) (*CommitDetail, error) {
	c, err := e.graph.Commit(ctx, repositoryID, commitID)
	if err != nil {
		return nil, wrap(err)
	}
	d := &CommitDetail{
		CommitSummary: summarizeCommit(c),
		Created:       []NotebookSummary{},
		Updated:       []NotebookSummary{},
		Deleted:       []NotebookSummary{},
		Unchanged:     []NotebookSummary{},
	}
	for _, f := range c.Files() {
		s := summarizeFile(repositoryID, c.ID, f)
		switch f.Change {
		case model.FileCreated:
			d.Created = append(d.Created, s)
		case model.FileUpdated:
			d.Updated = append(d.Updated, s)
		case model.FileDeleted:
			d.Deleted = append(d.Deleted, s)
		case model.FileUnchanged:
			d.Unchanged = append(d.Unchanged, s)
		}
	}
	return d, nil
}

// Notebooks lists the notebooks present in the commit's tree: created,
// updated and unchanged files. Deleted files are left out.
func (e *Engine) Notebooks(ctx context.Context, repositoryID, commitID string) ([]NotebookDetail, error) {
	files, err := e.snapshot(ctx, repositoryID, commitID)
	if err != nil {
		return nil, err
	}
	out := make([]NotebookDetail, 0, len(files))
	for _, f := range files {
		out = append(out, detailFile(repositoryID, commitID, f))
	}
	return out, nil
}

// Notebook returns one notebook of the commit by blob id. A file still in
// the tree wins over a deleted path holding the same content; a notebook
// that was only deleted is returned as deleted.
func (e *Engine) Notebook(ctx context.Context, repositoryID, commitID, notebookID string) (*NotebookDetail, error) {
	c, err := e.graph.Commit(ctx, repositoryID, commitID)
	if err != nil {
		return nil, wrap(err)
	}
	var deleted *model.CommittedFile
	for _, f := range c.Files() {
		if f.Notebook.BlobID != notebookID {
			continue
		}
		if f.Change != model.FileDeleted {
			d := detailFile(repositoryID, commitID, f)
			return &d, nil
		}
		if deleted == nil {
			deleted = f
		}
	}
	if deleted != nil {
		d := detailFile(repositoryID, commitID, deleted)
		return &d, nil
	}
	return nil, fmt.Errorf("notebook %s in commit %s: %w", notebookID, commitID, ErrNotFound)
}

// NotebookContent returns the raw notebook document from version control.
func (e *Engine) NotebookContent(ctx context.Context, repositoryID, commitID, notebookID string) ([]byte, error) {
	if _, err := e.Notebook(ctx, repositoryID, commitID, notebookID); err != nil {
		return nil, err
	}
	if e.blobs == nil {
		return nil, fmt.Errorf("notebook content %s: %w", notebookID, ErrNotFound)
	}
	content, err := e.blobs.Blob(ctx, repositoryID, notebookID)
	if err != nil {
		return nil, wrap(err)
	}
	return content, nil
}

// DependencyGraph returns every notebook of the commit's tree and the
// producer to consumer edges between them.
func (e *Engine) DependencyGraph(ctx context.Context, repositoryID, commitID string) (*DAG, error) {
	files, err := e.snapshot(ctx, repositoryID, commitID)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[f.Notebook.BlobID] = true
	}
	return buildDAG(repositoryID, commitID, files, keep), nil
}

// ForwardDependencies returns the notebook and everything downstream of it:
// notebooks consuming its outputs, transitively.
func (e *Engine) ForwardDependencies(ctx context.Context, repositoryID, commitID, notebookID string) (*DAG, error) {
	return e.traverse(ctx, repositoryID, commitID, notebookID, true)
}

// BackwardDependencies returns the notebook and everything upstream of it:
// notebooks producing its inputs, transitively.
func (e *Engine) BackwardDependencies(ctx context.Context, repositoryID, commitID, notebookID string) (*DAG, error) {
	return e.traverse(ctx, repositoryID, commitID, notebookID, false)
}

func (e *Engine) traverse(ctx context.Context, repositoryID, commitID, notebookID string, forward bool) (*DAG, error) {
	files, err := e.snapshot(ctx, repositoryID, commitID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.CommittedFile, len(files))
	for _, f := range files {
		byID[f.Notebook.BlobID] = f
	}
	if _, ok := byID[notebookID]; !ok {
		return nil, fmt.Errorf("notebook %s in commit %s: %w", notebookID, commitID, ErrNotFound)
	}

	visited := map[string]bool{notebookID: true}
	queue := []string{notebookID}
	for len(queue) > 0 {
		cur := byID[queue[0]]
		queue = queue[1:]
		for _, f := range files {
			id := f.Notebook.BlobID
			if visited[id] {
				continue
			}
			linked := feeds(cur.Notebook, f.Notebook)
			if !forward {
				linked = feeds(f.Notebook, cur.Notebook)
			}
			if linked {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	return buildDAG(repositoryID, commitID, files, visited), nil
}

// snapshot returns the commit's non-deleted files, one per notebook, in
// path order. When several paths hold identical content the first path
// represents the notebook.
func (e *Engine) snapshot(ctx context.Context, repositoryID, commitID string) ([]*model.CommittedFile, error) {
	c, err := e.graph.Commit(ctx, repositoryID, commitID)
	if err != nil {
		return nil, wrap(err)
	}
	seen := map[string]bool{}
	var out []*model.CommittedFile
	for _, f := range c.Files() {
		if f.Change == model.FileDeleted || seen[f.Notebook.BlobID] {
			continue
		}
		seen[f.Notebook.BlobID] = true
		out = append(out, f)
	}
	return out, nil
}

// feeds reports whether some output of a is an input of b.
func feeds(a, b *model.Notebook) bool {
	return a.Outputs.Intersects(b.Inputs)
}

// buildDAG keeps the files whose notebook id is in keep and draws an edge
// A->B for every pair of distinct kept notebooks where A feeds B.
func buildDAG(repositoryID, commitID string, files []*model.CommittedFile, keep map[string]bool) *DAG {
	dag := &DAG{Nodes: []NotebookDetail{}, Edges: []Edge{}}
	var kept []*model.CommittedFile
	for _, f := range files {
		if keep[f.Notebook.BlobID] {
			kept = append(kept, f)
			dag.Nodes = append(dag.Nodes, detailFile(repositoryID, commitID, f))
		}
	}
	for _, a := range kept {
		for _, b := range kept {
			if a.Notebook.BlobID == b.Notebook.BlobID {
				continue
			}
			if feeds(a.Notebook, b.Notebook) {
				dag.Edges = append(dag.Edges, Edge{From: a.Notebook.BlobID, To: b.Notebook.BlobID})
			}
		}
	}
	return dag
}

// Dataset lists the notebooks producing and consuming a dataset across all
// repositories and commits, excluding deleted files.
func (e *Engine) Dataset(ctx context.Context, path string) (*DatasetUsage, error) {
	d, ok := model.NewDataset(path)
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", path, ErrNotFound)
	}
	uses, err := e.graph.DatasetUsage(ctx, d.Path())
	if err != nil {
		return nil, wrap(err)
	}
	out := &DatasetUsage{Path: d.Path(), Producers: []DatasetReference{}, Consumers: []DatasetReference{}}
	for _, u := range uses {
		if u.Change == model.FileDeleted {
			continue
		}
		ref := DatasetReference{
			RepositoryID:  u.RepositoryID,
			RepositoryURI: u.RepositoryURI,
			CommitID:      u.CommitID,
			NotebookID:    u.BlobID,
			Path:          u.Path,
			Change:        u.Change,
		}
		if u.Produces {
			out.Producers = append(out.Producers, ref)
		} else {
			out.Consumers = append(out.Consumers, ref)
		}
	}
	if len(out.Producers) == 0 && len(out.Consumers) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", d.Path(), ErrNotFound)
	}
	return out, nil
}
