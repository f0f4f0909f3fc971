// Package vcs defines the version control capabilities the commit processor
// relies on, independent of any particular Git implementation.
package vcs

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a revision, path or object does not exist.
var ErrNotFound = errors.New("not found")

// ErrDirty is returned when a working copy has uncommitted changes to
// tracked files that a checkout would overwrite.
var ErrDirty = errors.New("working tree has uncommitted changes")

// Error describes a failed version control operation.
type Error struct {
	Op  string
	Rev string
	Err error
}

func (e *Error) Error() string {
	if e.Rev == "" {
		return fmt.Sprintf("vcs %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vcs %s %s: %v", e.Op, e.Rev, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ChangeType classifies one entry of a tree diff.
type ChangeType int

const (
	Add ChangeType = iota + 1
	Modify
	Rename
	Copy
	Delete
)

func (t ChangeType) String() string {
	switch t {
	case Add:
		return "add"
	case Modify:
		return "modify"
	case Rename:
		return "rename"
	case Copy:
		return "copy"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// Change is one file-level difference between a commit and its parent.
// OldPath and OldBlobID are empty for Add; NewPath and NewBlobID are empty
// for Delete.
type Change struct {
	Type      ChangeType
	OldPath   string
	NewPath   string
	OldBlobID string
	NewBlobID string
}

// Path returns the key the change is stored under: the old path for
// deletions, the new path otherwise.
func (c Change) Path() string {
	if c.Type == Delete {
		return c.OldPath
	}
	return c.NewPath
}

// DiffMap indexes the changes of one commit by path. A path that is not in
// the map is unchanged relative to the parent.
type DiffMap map[string]Change

// Put stores c under its path.
func (d DiffMap) Put(c Change) {
	d[c.Path()] = c
}

// Lookup returns the change recorded for path, if any.
func (d DiffMap) Lookup(path string) (Change, bool) {
	c, ok := d[path]
	return c, ok
}

// Deleted returns the deletions ordered by old path.
func (d DiffMap) Deleted() []Change {
	var out []Change
	for _, c := range d {
		if c.Type == Delete {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OldPath < out[j].OldPath })
	return out
}

// CommitMetadata is the authorship record of a commit.
type CommitMetadata struct {
	ID             string
	AuthorName     string
	AuthorEmail    string
	AuthoredAt     time.Time
	CommitterName  string
	CommitterEmail string
	CommittedAt    time.Time
	Message        string
}

// Source is a repository with a mutable working tree.
type Source interface {
	// Resolve turns a revision expression into a full commit id.
	Resolve(rev string) (string, error)
	// Checkout replaces the working tree with the named commit.
	Checkout(commitID string) error
	// Diff compares the commit with its first parent, or with an empty
	// tree for a root commit.
	Diff(commitID string) (DiffMap, error)
	// BlobID returns the content id of path as of the commit.
	BlobID(commitID, path string) (string, error)
	CommitMetadata(commitID string) (*CommitMetadata, error)
	// Range lists commits reachable from to but not from from, oldest
	// first. An empty from starts at the root.
	Range(from, to string) ([]string, error)
	BlobContent(blobID string) ([]byte, error)
	// WorkDir is the root of the checked-out working tree.
	WorkDir() string
}
