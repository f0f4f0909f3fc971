// Package processor turns one commit of a repository into the in-memory
// aggregate the graph store persists: the commit, its metadata and every
// notebook file it carries, classified against the parent commit.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/ignore"
	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/notebook"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// DefaultExtension is the file extension of notebooks.
const DefaultExtension = ".ipynb"

// Error is returned for any failure while processing a commit. Nothing of
// the commit should be persisted when it is returned.
type Error struct {
	Commit     string
	Repository string
	WorkDir    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("processing commit %s of %s in %s: %v", e.Commit, e.Repository, e.WorkDir, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Processor builds commit aggregates. It holds no per-commit state and may
// be shared; the vcs.Source it is given may not.
type Processor struct {
	ext     string
	folders []string
	logger  *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithExtension sets the notebook file extension, including the dot.
func WithExtension(ext string) Option {
	return func(p *Processor) {
		if ext != "" {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			p.ext = ext
		}
	}
}

// WithIgnoredFolders adds folder names that are never walked.
func WithIgnoredFolders(folders ...string) Option {
	return func(p *Processor) { p.folders = append(p.folders, folders...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New returns a Processor.
func New(opts ...Option) *Processor {
	p := &Processor{ext: DefaultExtension, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process checks out commitID in src and returns the repository and commit
// aggregates. Parse errors in any notebook fail the whole commit.
func (p *Processor) Process(ctx context.Context, src vcs.Source, commitID, repositoryURI string) (*model.Repository, *model.Commit, error) {
	repo, commit, err := p.process(ctx, src, commitID, repositoryURI)
	if err != nil {
		return nil, nil, &Error{Commit: commitID, Repository: repositoryURI, WorkDir: src.WorkDir(), Err: err}
	}
	return repo, commit, nil
}

func (p *Processor) process(ctx context.Context, src vcs.Source, rev, repositoryURI string) (*model.Repository, *model.Commit, error) {
	commitID, err := src.Resolve(rev)
	if err != nil {
		return nil, nil, err
	}
	if err := src.Checkout(commitID); err != nil {
		return nil, nil, err
	}
	diff, err := src.Diff(commitID)
	if err != nil {
		return nil, nil, err
	}

	repo := model.NewRepository(repositoryURI)
	meta, err := src.CommitMetadata(commitID)
	if err != nil {
		return nil, nil, err
	}
	commit := &model.Commit{
		ID:             commitID,
		AuthorName:     meta.AuthorName,
		AuthorEmail:    meta.AuthorEmail,
		AuthoredAt:     meta.AuthoredAt,
		CommitterName:  meta.CommitterName,
		CommitterEmail: meta.CommitterEmail,
		CommittedAt:    meta.CommittedAt,
		Message:        meta.Message,
	}

	root := src.WorkDir()
	matcher, err := ignore.ForWorkTree(root, p.folders...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading ignore rules: %w", err)
	}
	paths, err := p.walk(root, matcher)
	if err != nil {
		return nil, nil, err
	}

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		blobID, err := src.BlobID(commitID, rel)
		if errors.Is(err, vcs.ErrNotFound) {
			p.logger.Debug("skipping untracked file", zap.String("commit", commitID), zap.String("path", rel))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		nb, err := notebook.Parse(rel, content)
		if err != nil {
			return nil, nil, err
		}
		nb.BlobID = blobID

		change := model.FileUnchanged
		if c, ok := diff.Lookup(rel); ok {
			switch c.Type {
			case vcs.Add:
				change = model.FileCreated
			case vcs.Modify, vcs.Rename, vcs.Copy:
				change = model.FileUpdated
			default:
				return nil, nil, fmt.Errorf("%s is in the tree but recorded as %s", rel, c.Type)
			}
		}
		if err := commit.Attach(&model.CommittedFile{Change: change, Path: rel, Notebook: nb}); err != nil {
			return nil, nil, err
		}
	}

	for _, c := range diff.Deleted() {
		if !p.wants(matcher, c.OldPath) {
			continue
		}
		nb := p.deletedNotebook(src, commitID, c)
		if err := commit.Attach(&model.CommittedFile{Change: model.FileDeleted, Path: c.OldPath, Notebook: nb}); err != nil {
			return nil, nil, err
		}
	}

	repo.AddCommit(commit)
	return repo, commit, nil
}

// deletedNotebook rebuilds the notebook a deletion removed from its old
// blob. The blob is read from the object store, never the working tree.
// The deleted version is not part of the commit's tree, so a blob that
// cannot be read or parsed still yields the bare notebook identity.
func (p *Processor) deletedNotebook(src vcs.Source, commitID string, c vcs.Change) *model.Notebook {
	nb := &model.Notebook{BlobID: c.OldBlobID}
	content, err := src.BlobContent(c.OldBlobID)
	if err != nil {
		p.logger.Warn("reading deleted notebook", zap.String("commit", commitID), zap.String("path", c.OldPath), zap.Error(err))
		return nb
	}
	parsed, err := notebook.Parse(c.OldPath, content)
	if err != nil {
		p.logger.Warn("parsing deleted notebook", zap.String("commit", commitID), zap.String("path", c.OldPath), zap.Error(err))
		return nb
	}
	parsed.BlobID = c.OldBlobID
	return parsed
}

func (p *Processor) wants(m *ignore.Matcher, rel string) bool {
	return strings.EqualFold(filepath.Ext(rel), p.ext) && !m.Match(rel, false)
}

// walk lists the notebook files under root as sorted slash-separated paths
// relative to root.
func (p *Processor) walk(root string, m *ignore.Matcher) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if m.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if p.wants(m, rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
