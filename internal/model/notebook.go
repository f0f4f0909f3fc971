package model

// Notebook is a notebook file version identified by its content blob id.
// The same content appearing at different paths, commits or repositories
// maps to the same Notebook.
type Notebook struct {
	BlobID  string
	Inputs  DatasetSet
	Outputs DatasetSet
}

// FileChange classifies a notebook file relative to the parent commit.
type FileChange string

const (
	FileCreated   FileChange = "created"
	FileUpdated   FileChange = "updated"
	FileDeleted   FileChange = "deleted"
	FileUnchanged FileChange = "unchanged"
)

// Edge labels used when a commit is linked to a notebook.
const (
	LabelCreates   = "CREATES"
	LabelUpdates   = "UPDATES"
	LabelDeletes   = "DELETES"
	LabelUnchanged = "UNCHANGED"
)

// Label returns the edge label for the classification.
func (c FileChange) Label() string {
	switch c {
	case FileCreated:
		return LabelCreates
	case FileUpdated:
		return LabelUpdates
	case FileDeleted:
		return LabelDeletes
	case FileUnchanged:
		return LabelUnchanged
	}
	return ""
}

// FileChangeFromLabel maps an edge label back to its classification.
func FileChangeFromLabel(label string) (FileChange, bool) {
	switch label {
	case LabelCreates:
		return FileCreated, true
	case LabelUpdates:
		return FileUpdated, true
	case LabelDeletes:
		return FileDeleted, true
	case LabelUnchanged:
		return FileUnchanged, true
	}
	return "", false
}

// FileChangeLabels lists every commit-to-notebook edge label.
var FileChangeLabels = []string{LabelCreates, LabelUpdates, LabelDeletes, LabelUnchanged}

// CommittedFile is the relationship between a commit and a notebook version,
// together with the path the file had in that commit.
type CommittedFile struct {
	Change   FileChange
	Path     string
	Notebook *Notebook
}
