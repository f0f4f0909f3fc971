package model

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/statisticsnorway/blueprint/internal/cas"
)

// Node kinds, used for content addressing.
const (
	KindRepository = "Repository"
	KindCommit     = "Commit"
	KindNotebook   = "Notebook"
	KindDataset    = "Dataset"
)

// ErrDuplicatePath is returned when a commit already carries a different
// classification for the same path.
var ErrDuplicatePath = errors.New("path already attached to commit")

// Commit is one processed revision and the notebook files it carried.
type Commit struct {
	ID             string
	AuthorName     string
	AuthorEmail    string
	AuthoredAt     time.Time
	CommitterName  string
	CommitterEmail string
	CommittedAt    time.Time
	Message        string

	files map[string]*CommittedFile
}

// Attach adds a committed file. Attaching an identical file twice is a
// no-op; attaching a different classification or blob for a path that is
// already present returns ErrDuplicatePath.
func (c *Commit) Attach(f *CommittedFile) error {
	if c.files == nil {
		c.files = make(map[string]*CommittedFile)
	}
	if existing, ok := c.files[f.Path]; ok {
		if existing.Change == f.Change && blobOf(existing) == blobOf(f) {
			return nil
		}
		return fmt.Errorf("%w: %s (%s, %s)", ErrDuplicatePath, f.Path, existing.Change, f.Change)
	}
	c.files[f.Path] = f
	return nil
}

func blobOf(f *CommittedFile) string {
	if f.Notebook == nil {
		return ""
	}
	return f.Notebook.BlobID
}

// Files returns the committed files ordered by path.
func (c *Commit) Files() []*CommittedFile {
	out := make([]*CommittedFile, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// File returns the committed file at path, or nil.
func (c *Commit) File(p string) *CommittedFile {
	return c.files[p]
}

// FilesByChange returns the committed files with the given classification,
// ordered by path.
func (c *Commit) FilesByChange(change FileChange) []*CommittedFile {
	var out []*CommittedFile
	for _, f := range c.Files() {
		if f.Change == change {
			out = append(out, f)
		}
	}
	return out
}

// Repository is a remote source repository identified by its normalized URI.
type Repository struct {
	ID      string
	URI     string
	Commits []*Commit
}

// NewRepository builds a Repository for the remote uri.
func NewRepository(uri string) *Repository {
	norm := NormalizeURI(uri)
	return &Repository{ID: RepositoryID(norm), URI: norm}
}

// AddCommit links c to the repository once.
func (r *Repository) AddCommit(c *Commit) {
	for _, existing := range r.Commits {
		if existing.ID == c.ID {
			return
		}
	}
	r.Commits = append(r.Commits, c)
}

// RepositoryID returns the stable identity of a remote.
func RepositoryID(uri string) string {
	return cas.MustNodeID(KindRepository, map[string]string{"uri": NormalizeURI(uri)})
}

// CommitNodeID returns the identity of a commit scoped to its repository.
func CommitNodeID(repositoryID, commitID string) string {
	return cas.MustNodeID(KindCommit, map[string]string{"repository": repositoryID, "commit": commitID})
}

// NotebookNodeID returns the identity of a notebook version.
func NotebookNodeID(blobID string) string {
	return cas.MustNodeID(KindNotebook, map[string]string{"blob": blobID})
}

// DatasetNodeID returns the identity of a dataset path.
func DatasetNodeID(d Dataset) string {
	return cas.MustNodeID(KindDataset, map[string]string{"path": d.path})
}

// NormalizeURI canonicalizes a remote address so that trivially different
// spellings of the same remote share an identity. Credentials are dropped,
// scheme and host are lowercased and redundant path elements are removed.
// Addresses that do not parse as URLs (scp-like or local paths) are only
// trimmed.
func NormalizeURI(uri string) string {
	s := strings.TrimSpace(uri)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(s, "/")
	}
	u.User = nil
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path != "" {
		u.Path = path.Clean(u.Path)
		if u.Path == "/" || u.Path == "." {
			u.Path = ""
		}
	}
	u.RawPath = ""
	u.Fragment = ""
	return u.String()
}
