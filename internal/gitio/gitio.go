// Package gitio implements vcs.Source on top of go-git and manages the
// local clones the webhook and import paths work in.
package gitio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// Repository wraps a non-bare go-git repository. It is not safe for
// concurrent use; callers serialize access per working tree.
type Repository struct {
	repo  *git.Repository
	path  string
	clean bool
}

var _ vcs.Source = (*Repository)(nil)

// Open opens an existing working copy. Checkout keeps untracked files.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// WorkDir returns the working tree root.
func (r *Repository) WorkDir() string {
	return r.path
}

// Resolve returns the full hash of rev (a branch, tag, hash or any
// expression go-git understands).
func (r *Repository) Resolve(rev string) (string, error) {
	h, err := r.resolve(rev)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (r *Repository) resolve(rev string) (plumbing.Hash, error) {
	if rev == "" {
		return plumbing.ZeroHash, &vcs.Error{Op: "resolve", Err: vcs.ErrNotFound}
	}
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return *h, nil
	}
	// A full hash whose commit is present resolves even when no ref points
	// at it.
	if plumbing.IsHash(rev) {
		if _, cerr := r.repo.CommitObject(plumbing.NewHash(rev)); cerr == nil {
			return plumbing.NewHash(rev), nil
		}
	}
	return plumbing.ZeroHash, &vcs.Error{Op: "resolve", Rev: rev, Err: fmt.Errorf("%w: %v", vcs.ErrNotFound, err)}
}

func (r *Repository) commit(rev string) (*object.Commit, error) {
	h, err := r.resolve(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, &vcs.Error{Op: "commit", Rev: rev, Err: vcs.ErrNotFound}
		}
		return nil, &vcs.Error{Op: "commit", Rev: rev, Err: err}
	}
	return c, nil
}

// Checkout checks out the named commit with a detached HEAD. A working
// copy opened with Open must have no uncommitted changes to tracked files,
// otherwise vcs.ErrDirty is returned and nothing is touched; untracked files
// are kept. Clones owned by a Store are reset and cleaned unconditionally.
func (r *Repository) Checkout(commitID string) error {
	h, err := r.resolve(commitID)
	if err != nil {
		return err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return &vcs.Error{Op: "checkout", Rev: commitID, Err: err}
	}
	if !r.clean {
		changed, err := modifiedPaths(wt)
		if err != nil {
			return &vcs.Error{Op: "status", Rev: commitID, Err: err}
		}
		if len(changed) > 0 {
			return &vcs.Error{Op: "checkout", Rev: commitID,
				Err: fmt.Errorf("%w: %s", vcs.ErrDirty, strings.Join(changed, ", "))}
		}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: h, Force: true}); err != nil {
		return &vcs.Error{Op: "checkout", Rev: commitID, Err: err}
	}
	if r.clean {
		if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
			return &vcs.Error{Op: "clean", Rev: commitID, Err: err}
		}
	}
	return nil
}

// modifiedPaths lists tracked files with staged or unstaged changes.
func modifiedPaths(wt *git.Worktree) ([]string, error) {
	st, err := wt.Status()
	if err != nil {
		return nil, err
	}
	var paths []string
	for p, fs := range st {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Diff compares the commit tree with its first parent. Renames are
// detected; go-git never reports copies, so vcs.Copy does not occur.
func (r *Repository) Diff(commitID string) (vcs.DiffMap, error) {
	c, err := r.commit(commitID)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, &vcs.Error{Op: "diff", Rev: commitID, Err: fmt.Errorf("getting tree: %w", err)}
	}

	// A nil parent tree diffs as empty: every file of a root commit is added.
	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, &vcs.Error{Op: "diff", Rev: commitID, Err: fmt.Errorf("getting parent: %w", err)}
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, &vcs.Error{Op: "diff", Rev: commitID, Err: fmt.Errorf("getting parent tree: %w", err)}
		}
	}

	changes, err := object.DiffTreeWithOptions(context.Background(), parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, &vcs.Error{Op: "diff", Rev: commitID, Err: err}
	}

	diff := vcs.DiffMap{}
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, &vcs.Error{Op: "diff", Rev: commitID, Err: err}
		}
		switch action {
		case merkletrie.Insert:
			diff.Put(vcs.Change{Type: vcs.Add, NewPath: ch.To.Name, NewBlobID: ch.To.TreeEntry.Hash.String()})
		case merkletrie.Delete:
			diff.Put(vcs.Change{Type: vcs.Delete, OldPath: ch.From.Name, OldBlobID: ch.From.TreeEntry.Hash.String()})
		case merkletrie.Modify:
			t := vcs.Modify
			if ch.From.Name != ch.To.Name {
				t = vcs.Rename
			}
			diff.Put(vcs.Change{
				Type:      t,
				OldPath:   ch.From.Name,
				NewPath:   ch.To.Name,
				OldBlobID: ch.From.TreeEntry.Hash.String(),
				NewBlobID: ch.To.TreeEntry.Hash.String(),
			})
		}
	}
	return diff, nil
}

// BlobID returns the blob hash of path in the commit tree.
func (r *Repository) BlobID(commitID, path string) (string, error) {
	c, err := r.commit(commitID)
	if err != nil {
		return "", err
	}
	f, err := c.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", &vcs.Error{Op: "blob id", Rev: commitID, Err: fmt.Errorf("%s: %w", path, vcs.ErrNotFound)}
		}
		return "", &vcs.Error{Op: "blob id", Rev: commitID, Err: fmt.Errorf("%s: %w", path, err)}
	}
	return f.Hash.String(), nil
}

// CommitMetadata returns the author and committer record of a commit.
func (r *Repository) CommitMetadata(commitID string) (*vcs.CommitMetadata, error) {
	c, err := r.commit(commitID)
	if err != nil {
		return nil, err
	}
	return &vcs.CommitMetadata{
		ID:             c.Hash.String(),
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthoredAt:     c.Author.When,
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommittedAt:    c.Committer.When,
		Message:        c.Message,
	}, nil
}

// Range lists the commits reachable from to and not from from. Parents
// always come before their children; otherwise commits are ordered oldest
// first by committer time. from itself is excluded and to is included. An
// empty from lists the whole history of to.
func (r *Repository) Range(from, to string) ([]string, error) {
	toHash, err := r.resolve(to)
	if err != nil {
		return nil, err
	}

	exclude := map[plumbing.Hash]struct{}{}
	if from != "" {
		fromHash, err := r.resolve(from)
		if err != nil {
			return nil, err
		}
		iter, err := r.repo.Log(&git.LogOptions{From: fromHash})
		if err != nil {
			return nil, &vcs.Error{Op: "range", Rev: from, Err: err}
		}
		err = iter.ForEach(func(c *object.Commit) error {
			exclude[c.Hash] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, &vcs.Error{Op: "range", Rev: from, Err: err}
		}
	}

	iter, err := r.repo.Log(&git.LogOptions{From: toHash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, &vcs.Error{Op: "range", Rev: to, Err: err}
	}
	var newest []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if _, skip := exclude[c.Hash]; !skip {
			newest = append(newest, c)
		}
		return nil
	})
	if err != nil {
		return nil, &vcs.Error{Op: "range", Rev: to, Err: err}
	}
	return parentsFirst(newest), nil
}

// parentsFirst orders commits so that every commit follows its parents
// within the set, keeping the committer time order where clocks agree with
// the history. newest is ordered newest first.
func parentsFirst(newest []*object.Commit) []string {
	byHash := make(map[plumbing.Hash]*object.Commit, len(newest))
	for _, c := range newest {
		byHash[c.Hash] = c
	}
	done := make(map[plumbing.Hash]bool, len(newest))
	ids := make([]string, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		stack := []*object.Commit{newest[i]}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if done[top.Hash] {
				stack = stack[:len(stack)-1]
				continue
			}
			pending := false
			for j := len(top.ParentHashes) - 1; j >= 0; j-- {
				p := top.ParentHashes[j]
				if pc, ok := byHash[p]; ok && !done[p] {
					stack = append(stack, pc)
					pending = true
				}
			}
			if !pending {
				done[top.Hash] = true
				ids = append(ids, top.Hash.String())
				stack = stack[:len(stack)-1]
			}
		}
	}
	return ids
}

// BlobContent reads a blob by hash.
func (r *Repository) BlobContent(blobID string) ([]byte, error) {
	return readBlob(r.repo, blobID)
}

func readBlob(repo *git.Repository, blobID string) ([]byte, error) {
	if !plumbing.IsHash(blobID) {
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: vcs.ErrNotFound}
	}
	blob, err := repo.BlobObject(plumbing.NewHash(blobID))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: vcs.ErrNotFound}
		}
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: err}
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: err}
	}
	defer rd.Close()

	content, err := io.ReadAll(rd)
	if err != nil {
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: err}
	}
	return content, nil
}
