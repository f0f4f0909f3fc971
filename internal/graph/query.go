package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/statisticsnorway/blueprint/internal/model"
)

var fileEdgeTypes = []any{string(EdgeCreates), string(EdgeUpdates), string(EdgeDeletes), string(EdgeUnchanged)}

// Repositories lists every stored repository ordered by URI.
func (db *DB) Repositories(ctx context.Context) ([]*model.Repository, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, payload FROM nodes WHERE kind = ?`, string(KindRepository))
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	defer rows.Close()

	var repos []*model.Repository
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		var p repositoryPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decoding repository %s: %w", id, err)
		}
		repos = append(repos, &model.Repository{ID: id, URI: p.URI})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].URI < repos[j].URI })
	return repos, nil
}

// Repository returns one repository without its commits.
func (db *DB) Repository(ctx context.Context, repositoryID string) (*model.Repository, error) {
	var payload string
	err := db.conn.QueryRowContext(ctx, `SELECT payload FROM nodes WHERE id = ? AND kind = ?`,
		repositoryID, string(KindRepository)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s: %w", repositoryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying repository: %w", err)
	}
	var p repositoryPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding repository %s: %w", repositoryID, err)
	}
	return &model.Repository{ID: repositoryID, URI: p.URI}, nil
}

// Commits returns the commits of a repository with metadata only, in no
// particular order.
func (db *DB) Commits(ctx context.Context, repositoryID string) ([]*model.Commit, error) {
	if _, err := db.Repository(ctx, repositoryID); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.payload FROM edges e
		JOIN nodes n ON n.id = e.dst
		WHERE e.src = ? AND e.type = ?
	`, repositoryID, string(EdgeContains))
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var commits []*model.Commit
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		c, err := decodeCommit(payload)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func decodeCommit(payload string) (*model.Commit, error) {
	var p commitPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding commit: %w", err)
	}
	return &model.Commit{
		ID:             p.Commit,
		AuthorName:     p.AuthorName,
		AuthorEmail:    p.AuthorEmail,
		AuthoredAt:     p.AuthoredAt,
		CommitterName:  p.CommitterName,
		CommitterEmail: p.CommitterEmail,
		CommittedAt:    p.CommittedAt,
		Message:        p.Message,
	}, nil
}

// Commit returns a commit with all its committed files and the datasets of
// their notebooks.
func (db *DB) Commit(ctx context.Context, repositoryID, commitID string) (*model.Commit, error) {
	if _, err := db.Repository(ctx, repositoryID); err != nil {
		return nil, err
	}
	commitNode := model.CommitNodeID(repositoryID, commitID)

	var payload string
	err := db.conn.QueryRowContext(ctx, `SELECT payload FROM nodes WHERE id = ? AND kind = ?`,
		commitNode, string(KindCommit)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("commit %s: %w", commitID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying commit: %w", err)
	}
	commit, err := decodeCommit(payload)
	if err != nil {
		return nil, err
	}

	args := append([]any{commitNode}, fileEdgeTypes...)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.type, e.at, e.dst, n.payload FROM edges e
		JOIN nodes n ON n.id = e.dst
		WHERE e.src = ? AND e.type IN (?, ?, ?, ?)
		ORDER BY e.at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying committed files: %w", err)
	}
	defer rows.Close()

	notebooks := map[string]*model.Notebook{}
	type fileRow struct {
		label, path, node string
	}
	var files []fileRow
	for rows.Next() {
		var r fileRow
		var nbPayload string
		if err := rows.Scan(&r.label, &r.path, &r.node, &nbPayload); err != nil {
			return nil, fmt.Errorf("scanning committed file: %w", err)
		}
		if _, ok := notebooks[r.node]; !ok {
			var p notebookPayload
			if err := json.Unmarshal([]byte(nbPayload), &p); err != nil {
				return nil, fmt.Errorf("decoding notebook: %w", err)
			}
			notebooks[r.node] = &model.Notebook{BlobID: p.Blob}
		}
		files = append(files, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := db.loadDatasets(ctx, notebooks); err != nil {
		return nil, err
	}

	for _, f := range files {
		change, ok := model.FileChangeFromLabel(f.label)
		if !ok {
			return nil, fmt.Errorf("commit %s path %s: unknown edge %s", commitID, f.path, f.label)
		}
		if err := commit.Attach(&model.CommittedFile{Change: change, Path: f.path, Notebook: notebooks[f.node]}); err != nil {
			return nil, err
		}
	}
	return commit, nil
}

// loadDatasets fills in the inputs and outputs of the given notebooks,
// keyed by notebook node id.
func (db *DB) loadDatasets(ctx context.Context, notebooks map[string]*model.Notebook) error {
	if len(notebooks) == 0 {
		return nil
	}
	ids := make([]any, 0, len(notebooks))
	for id := range notebooks {
		ids = append(ids, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := append(ids, string(EdgeConsumes), string(EdgeProduces))

	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.src, e.type, d.payload FROM edges e
		JOIN nodes d ON d.id = e.dst
		WHERE e.src IN (`+placeholders+`) AND e.type IN (?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("querying datasets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var src, typ, payload string
		if err := rows.Scan(&src, &typ, &payload); err != nil {
			return fmt.Errorf("scanning dataset: %w", err)
		}
		var p datasetPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("decoding dataset: %w", err)
		}
		nb := notebooks[src]
		if EdgeType(typ) == EdgeConsumes {
			nb.Inputs.Add(p.Path)
		} else {
			nb.Outputs.Add(p.Path)
		}
	}
	return rows.Err()
}

// DatasetUsage lists every committed notebook version that consumes or
// produces the dataset at path, across all repositories. Deleted files are
// included with their classification so callers can filter them.
func (db *DB) DatasetUsage(ctx context.Context, path string) ([]DatasetUse, error) {
	d, ok := model.NewDataset(path)
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", path, ErrNotFound)
	}
	dsNode := model.DatasetNodeID(d)

	args := append(append([]any{}, fileEdgeTypes...), string(EdgeContains), dsNode, string(EdgeConsumes), string(EdgeProduces))
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.id, r.payload, c.payload, f.at, f.type, nb.payload, u.type
		FROM edges u
		JOIN nodes nb ON nb.id = u.src
		JOIN edges f ON f.dst = nb.id AND f.type IN (?, ?, ?, ?)
		JOIN nodes c ON c.id = f.src
		JOIN edges rc ON rc.dst = c.id AND rc.type = ?
		JOIN nodes r ON r.id = rc.src
		WHERE u.dst = ? AND u.type IN (?, ?)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dataset usage: %w", err)
	}
	defer rows.Close()

	var uses []DatasetUse
	for rows.Next() {
		var repoID, repoPayload, commitPayload, filePath, label, nbPayload, useType string
		if err := rows.Scan(&repoID, &repoPayload, &commitPayload, &filePath, &label, &nbPayload, &useType); err != nil {
			return nil, fmt.Errorf("scanning dataset usage: %w", err)
		}
		var rp repositoryPayload
		var cp commitPayload
		var np notebookPayload
		for _, dec := range []struct {
			data string
			v    any
		}{{repoPayload, &rp}, {commitPayload, &cp}, {nbPayload, &np}} {
			if err := json.Unmarshal([]byte(dec.data), dec.v); err != nil {
				return nil, fmt.Errorf("decoding dataset usage: %w", err)
			}
		}
		change, _ := model.FileChangeFromLabel(label)
		uses = append(uses, DatasetUse{
			RepositoryID:  repoID,
			RepositoryURI: rp.URI,
			CommitID:      cp.Commit,
			Path:          filePath,
			BlobID:        np.Blob,
			Change:        change,
			Produces:      EdgeType(useType) == EdgeProduces,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(uses, func(i, j int) bool {
		a, b := uses[i], uses[j]
		if a.RepositoryURI != b.RepositoryURI {
			return a.RepositoryURI < b.RepositoryURI
		}
		if a.CommitID != b.CommitID {
			return a.CommitID < b.CommitID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return !a.Produces && b.Produces
	})
	return uses, nil
}
