package lineage

import (
	"fmt"
	"time"

	"github.com/statisticsnorway/blueprint/internal/model"
)

// RepositorySummary identifies a repository.
type RepositorySummary struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// CommitSummary is the metadata of one commit.
type CommitSummary struct {
	ID             string    `json:"id"`
	AuthorName     string    `json:"authorName"`
	AuthorEmail    string    `json:"authorEmail"`
	AuthoredAt     time.Time `json:"authoredAt"`
	CommitterName  string    `json:"committerName"`
	CommitterEmail string    `json:"committerEmail"`
	CommittedAt    time.Time `json:"committedAt"`
	Message        string    `json:"message"`
}

// CommitDetail is a commit with its notebook files grouped by classification.
type CommitDetail struct {
	CommitSummary
	Created   []NotebookSummary `json:"created"`
	Updated   []NotebookSummary `json:"updated"`
	Deleted   []NotebookSummary `json:"deleted"`
	Unchanged []NotebookSummary `json:"unchanged"`
}

// NotebookSummary is a notebook as seen from one commit. ID is the blob id.
type NotebookSummary struct {
	ID       string           `json:"id"`
	Path     string           `json:"path"`
	Change   model.FileChange `json:"change"`
	FetchURL string           `json:"fetchUrl"`
}

// NotebookDetail adds the declared datasets.
type NotebookDetail struct {
	NotebookSummary
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// Edge points from a producing notebook to a consuming one.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAG is a set of notebooks and the dependencies between them.
type DAG struct {
	Nodes []NotebookDetail `json:"nodes"`
	Edges []Edge           `json:"edges"`
}

// DatasetReference is one notebook version touching a dataset.
type DatasetReference struct {
	RepositoryID  string           `json:"repositoryId"`
	RepositoryURI string           `json:"repositoryUri"`
	CommitID      string           `json:"commitId"`
	NotebookID    string           `json:"notebookId"`
	Path          string           `json:"path"`
	Change        model.FileChange `json:"change"`
}

// DatasetUsage lists who produces and consumes a dataset.
type DatasetUsage struct {
	Path      string             `json:"path"`
	Producers []DatasetReference `json:"producers"`
	Consumers []DatasetReference `json:"consumers"`
}

// NotebookURL is the API location of a notebook within a commit.
func NotebookURL(repositoryID, commitID, notebookID string) string {
	return fmt.Sprintf("/api/v1/repositories/%s/commits/%s/notebooks/%s", repositoryID, commitID, notebookID)
}

func summarizeCommit(c *model.Commit) CommitSummary {
	return CommitSummary{
		ID:             c.ID,
		AuthorName:     c.AuthorName,
		AuthorEmail:    c.AuthorEmail,
		AuthoredAt:     c.AuthoredAt,
		CommitterName:  c.CommitterName,
		CommitterEmail: c.CommitterEmail,
		CommittedAt:    c.CommittedAt,
		Message:        c.Message,
	}
}

func summarizeFile(repositoryID, commitID string, f *model.CommittedFile) NotebookSummary {
	return NotebookSummary{
		ID:       f.Notebook.BlobID,
		Path:     f.Path,
		Change:   f.Change,
		FetchURL: NotebookURL(repositoryID, commitID, f.Notebook.BlobID),
	}
}

func detailFile(repositoryID, commitID string, f *model.CommittedFile) NotebookDetail {
	return NotebookDetail{
		NotebookSummary: summarizeFile(repositoryID, commitID, f),
		Inputs:          nonNil(f.Notebook.Inputs.Paths()),
		Outputs:         nonNil(f.Notebook.Outputs.Paths()),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
