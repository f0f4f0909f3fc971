package graph

import (
	"time"

	"github.com/statisticsnorway/blueprint/internal/model"
)

// NodeKind is the label of a node.
type NodeKind string

const (
	KindRepository NodeKind = model.KindRepository
	KindCommit     NodeKind = model.KindCommit
	KindNotebook   NodeKind = model.KindNotebook
	KindDataset    NodeKind = model.KindDataset
)

// EdgeType is the label of an edge.
type EdgeType string

const (
	EdgeContains  EdgeType = "CONTAINS"
	EdgeCreates   EdgeType = model.LabelCreates
	EdgeUpdates   EdgeType = model.LabelUpdates
	EdgeDeletes   EdgeType = model.LabelDeletes
	EdgeUnchanged EdgeType = model.LabelUnchanged
	EdgeConsumes  EdgeType = "CONSUMES"
	EdgeProduces  EdgeType = "PRODUCES"
)

// Node is a stored node.
type Node struct {
	ID        string
	Kind      NodeKind
	Payload   map[string]any
	CreatedAt int64
}

// Edge is a stored edge. At is the file path for commit-to-notebook edges.
type Edge struct {
	Src       string
	Type      EdgeType
	Dst       string
	At        string
	CreatedAt int64
}

type repositoryPayload struct {
	URI string `json:"uri"`
}

type commitPayload struct {
	Repository     string    `json:"repository"`
	Commit         string    `json:"commit"`
	AuthorName     string    `json:"authorName"`
	AuthorEmail    string    `json:"authorEmail"`
	AuthoredAt     time.Time `json:"authoredAt"`
	CommitterName  string    `json:"committerName"`
	CommitterEmail string    `json:"committerEmail"`
	CommittedAt    time.Time `json:"committedAt"`
	Message        string    `json:"message"`
}

type notebookPayload struct {
	Blob string `json:"blob"`
}

type datasetPayload struct {
	Path string `json:"path"`
}

// Stats counts stored nodes and edges.
type Stats struct {
	Nodes  int64              `json:"nodes"`
	Edges  int64              `json:"edges"`
	ByKind map[NodeKind]int64 `json:"byKind"`
}

// DatasetUse is one notebook version reading or writing a dataset within a
// commit.
type DatasetUse struct {
	RepositoryID  string
	RepositoryURI string
	CommitID      string
	Path          string
	BlobID        string
	Change        model.FileChange
	Produces      bool
}
