package gitio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// StoreConfig configures where clones live and how remotes are reached.
type StoreConfig struct {
	Dir      string // clones go to Dir/repos/<repository id>, links to Dir/links
	MaxOpen  int    // open repository handles kept in memory
	Username string // basic auth for http(s) remotes, optional
	Password string
}

// Store owns one local clone per remote. Clones are keyed by repository id
// so a remote always maps to the same working tree.
//
// Open and the returned Repository mutate the working tree; callers must
// hold the repository lock for the remote. Blob is safe to call
// concurrently with processing.
type Store struct {
	cfg    StoreConfig
	open   *lru.Cache[string, *Repository]
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates the clone store, creating its directories.
func NewStore(cfg StoreConfig, opts ...Option) (*Store, error) {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 64
	}
	for _, d := range []string{filepath.Join(cfg.Dir, "repos"), filepath.Join(cfg.Dir, "links")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	cache, err := lru.New[string, *Repository](cfg.MaxOpen)
	if err != nil {
		return nil, fmt.Errorf("creating repository cache: %w", err)
	}
	s := &Store{cfg: cfg, open: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the clone directory for a remote.
func (s *Store) Dir(uri string) string {
	return s.dirFor(model.RepositoryID(uri))
}

func (s *Store) dirFor(repositoryID string) string {
	return filepath.Join(s.cfg.Dir, "repos", repositoryID)
}

// Open returns the clone of uri, cloning it on first use and fetching from
// the remote otherwise.
func (s *Store) Open(ctx context.Context, uri string) (*Repository, error) {
	norm := model.NormalizeURI(uri)
	id := model.RepositoryID(norm)

	if r, ok := s.open.Get(id); ok {
		if err := s.fetch(ctx, r, norm); err != nil {
			return nil, err
		}
		return r, nil
	}

	dir := s.dirFor(id)
	var (
		gr  *git.Repository
		err error
	)
	if _, statErr := os.Stat(filepath.Join(dir, git.GitDirName)); statErr == nil {
		gr, err = git.PlainOpen(dir)
		if err != nil {
			return nil, &vcs.Error{Op: "open", Rev: norm, Err: err}
		}
		r := &Repository{repo: gr, path: dir, clean: true}
		if err := s.fetch(ctx, r, norm); err != nil {
			return nil, err
		}
		s.open.Add(id, r)
		return r, nil
	}

	s.logger.Info("cloning repository", zap.String("repository", norm), zap.String("dir", dir))
	gr, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  uri,
		Auth: s.auth(norm),
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, &vcs.Error{Op: "clone", Rev: norm, Err: err}
	}
	s.link(norm, dir)

	r := &Repository{repo: gr, path: dir, clean: true}
	s.open.Add(id, r)
	return r, nil
}

func (s *Store) fetch(ctx context.Context, r *Repository, uri string) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       s.auth(uri),
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &vcs.Error{Op: "fetch", Rev: uri, Err: err}
	}
	return nil
}

func (s *Store) auth(uri string) transport.AuthMethod {
	if s.cfg.Username == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: s.cfg.Username, Password: s.cfg.Password}
}

// link maintains a readable links/<host>/<path> symlink to the hashed clone
// directory. Failures only affect operators browsing the store.
func (s *Store) link(uri, dir string) {
	name := LinkName(uri)
	if name == "" {
		return
	}
	linkPath := filepath.Join(s.cfg.Dir, "links", filepath.FromSlash(name))
	if _, err := os.Lstat(linkPath); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		s.logger.Warn("creating link directory", zap.String("repository", uri), zap.Error(err))
		return
	}
	if err := os.Symlink(dir, linkPath); err != nil {
		s.logger.Warn("creating repository link", zap.String("repository", uri), zap.Error(err))
	}
}

// LinkName maps a remote URL to host/owner/name, without a .git suffix.
// It returns "" for addresses that are not URLs.
func LinkName(uri string) string {
	u, err := url.Parse(model.NormalizeURI(uri))
	if err != nil || u.Host == "" {
		return ""
	}
	p := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	if p == "" {
		return ""
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return ""
		}
	}
	return u.Host + "/" + p
}

// Blob reads a blob from the clone of the given repository. It opens its
// own handle so that it does not share state with a running checkout.
func (s *Store) Blob(ctx context.Context, repositoryID, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.dirFor(repositoryID)
	if _, err := os.Stat(dir); err != nil {
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: vcs.ErrNotFound}
	}
	gr, err := git.PlainOpen(dir)
	if err != nil {
		return nil, &vcs.Error{Op: "blob", Rev: blobID, Err: err}
	}
	return readBlob(gr, blobID)
}

// Forget drops the cached handle for a repository and removes its clone.
func (s *Store) Forget(repositoryID string) error {
	s.open.Remove(repositoryID)
	if err := os.RemoveAll(s.dirFor(repositoryID)); err != nil {
		return fmt.Errorf("removing clone: %w", err)
	}
	return nil
}

// Source opens the clone of uri as a vcs.Source.
func (s *Store) Source(ctx context.Context, uri string) (vcs.Source, error) {
	r, err := s.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	return r, nil
}
