package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/model"
)

// ErrConflict marks an upsert that would change what is already stored for
// a commit.
var ErrConflict = errors.New("conflicting classification")

// ConflictError reports a committed file whose stored classification
// differs from the one being written.
type ConflictError struct {
	Commit         string
	Path           string
	Stored, Wanted EdgeType
	StoredNotebook string
	WantedNotebook string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commit %s path %s: stored %s of %s, got %s of %s",
		e.Commit, e.Path, e.Stored, e.StoredNotebook, e.Wanted, e.WantedNotebook)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UpsertCommit merges a processed commit into the graph in one transaction.
// Every node is found or created by natural key and every edge is created
// at most once, so repeating an upsert changes nothing. If a file of the
// commit is already stored with a different classification or notebook, a
// *ConflictError is returned and nothing is written.
func (db *DB) UpsertCommit(ctx context.Context, repo *model.Repository, commit *model.Commit) error {
	if repo == nil || commit == nil || commit.ID == "" {
		return fmt.Errorf("upsert: repository and commit are required")
	}
	err := db.update(ctx, func(tx *sql.Tx) error {
		return upsertCommit(ctx, tx, repo, commit)
	})
	if err != nil {
		return err
	}
	db.logger.Debug("upserted commit",
		zap.String("repository", repo.URI),
		zap.String("commit", commit.ID),
		zap.Int("files", len(commit.Files())))
	return nil
}

func upsertCommit(ctx context.Context, tx *sql.Tx, repo *model.Repository, commit *model.Commit) error {
	if err := insertNode(ctx, tx, repo.ID, KindRepository, repositoryPayload{URI: repo.URI}); err != nil {
		return err
	}

	commitNode := model.CommitNodeID(repo.ID, commit.ID)
	err := insertNode(ctx, tx, commitNode, KindCommit, commitPayload{
		Repository:     repo.ID,
		Commit:         commit.ID,
		AuthorName:     commit.AuthorName,
		AuthorEmail:    commit.AuthorEmail,
		AuthoredAt:     commit.AuthoredAt,
		CommitterName:  commit.CommitterName,
		CommitterEmail: commit.CommitterEmail,
		CommittedAt:    commit.CommittedAt,
		Message:        commit.Message,
	})
	if err != nil {
		return err
	}
	if err := insertEdge(ctx, tx, repo.ID, EdgeContains, commitNode, ""); err != nil {
		return err
	}

	for _, f := range commit.Files() {
		if f.Notebook == nil || f.Notebook.BlobID == "" {
			return fmt.Errorf("commit %s path %s: notebook has no blob id", commit.ID, f.Path)
		}
		label := EdgeType(f.Change.Label())
		if label == "" {
			return fmt.Errorf("commit %s path %s: unknown classification %q", commit.ID, f.Path, f.Change)
		}
		nbNode := model.NotebookNodeID(f.Notebook.BlobID)

		if err := checkClassification(ctx, tx, commit.ID, commitNode, f.Path, label, nbNode); err != nil {
			return err
		}
		if err := upsertNotebook(ctx, tx, nbNode, f.Notebook); err != nil {
			return err
		}
		if err := insertEdge(ctx, tx, commitNode, label, nbNode, f.Path); err != nil {
			return err
		}
	}
	return nil
}

// checkClassification fails when (commit, path) is already linked with a
// different label or to a different notebook.
func checkClassification(ctx context.Context, tx *sql.Tx, commitID, commitNode, path string, label EdgeType, nbNode string) error {
	var storedType, storedDst string
	err := tx.QueryRowContext(ctx, `
		SELECT type, dst FROM edges
		WHERE src = ? AND at = ? AND type IN (?, ?, ?, ?)
	`, append([]any{commitNode, path}, fileEdgeTypes...)...).Scan(&storedType, &storedDst)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking classification: %w", err)
	}
	if EdgeType(storedType) == label && storedDst == nbNode {
		return nil
	}
	return &ConflictError{
		Commit:         commitID,
		Path:           path,
		Stored:         EdgeType(storedType),
		Wanted:         label,
		StoredNotebook: storedDst,
		WantedNotebook: nbNode,
	}
}

func upsertNotebook(ctx context.Context, tx *sql.Tx, nbNode string, nb *model.Notebook) error {
	if err := insertNode(ctx, tx, nbNode, KindNotebook, notebookPayload{Blob: nb.BlobID}); err != nil {
		return err
	}
	link := func(set model.DatasetSet, t EdgeType) error {
		for _, p := range set.Paths() {
			d, _ := model.NewDataset(p)
			dsNode := model.DatasetNodeID(d)
			if err := insertNode(ctx, tx, dsNode, KindDataset, datasetPayload{Path: d.Path()}); err != nil {
				return err
			}
			if err := insertEdge(ctx, tx, nbNode, t, dsNode, ""); err != nil {
				return err
			}
		}
		return nil
	}
	if err := link(nb.Inputs, EdgeConsumes); err != nil {
		return err
	}
	return link(nb.Outputs, EdgeProduces)
}

// PurgeRepository removes a repository, its commits and their file edges.
// Notebooks and datasets stay, since other repositories may share them.
func (db *DB) PurgeRepository(ctx context.Context, repositoryID string) error {
	return db.update(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE id = ? AND kind = ?`,
			repositoryID, string(KindRepository)).Scan(&n)
		if err != nil {
			return fmt.Errorf("looking up repository: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("repository %s: %w", repositoryID, ErrNotFound)
		}

		stmts := []string{
			`DELETE FROM edges WHERE src IN (SELECT dst FROM edges WHERE src = ?1 AND type = 'CONTAINS')`,
			`DELETE FROM nodes WHERE id IN (SELECT dst FROM edges WHERE src = ?1 AND type = 'CONTAINS')`,
			`DELETE FROM edges WHERE src = ?1`,
			`DELETE FROM nodes WHERE id = ?1`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q, repositoryID); err != nil {
				return fmt.Errorf("purging repository: %w", err)
			}
		}
		return nil
	})
}
