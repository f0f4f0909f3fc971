// Package ingest runs the commit pipeline: process a commit from a working
// tree, then merge it into the graph store.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/metrics"
	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/processor"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// Triggers label where a sync came from.
const (
	TriggerHook   = "hook"
	TriggerImport = "import"
	TriggerCLI    = "cli"
)

// Store persists processed commits.
type Store interface {
	UpsertCommit(ctx context.Context, repo *model.Repository, commit *model.Commit) error
}

// Pipeline syncs commits into the store.
type Pipeline struct {
	proc   *processor.Processor
	store  Store
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a Pipeline.
func New(proc *processor.Processor, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{proc: proc, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sync processes one commit of src and stores it. Failures are logged with
// the commit, repository and working tree, and returned; nothing of a failed
// commit is stored.
func (p *Pipeline) Sync(ctx context.Context, src vcs.Source, commitID, repositoryURI, trigger string) (*model.Commit, error) {
	start := time.Now()
	commit, err := p.sync(ctx, src, commitID, repositoryURI)
	metrics.CommitDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	metrics.CommitsProcessed.WithLabelValues(trigger, metrics.Result(err)).Inc()

	fields := []zap.Field{
		zap.String("commit", commitID),
		zap.String("repository", repositoryURI),
		zap.String("workdir", src.WorkDir()),
		zap.String("trigger", trigger),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		p.logger.Error("commit sync failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	p.logger.Info("commit synced", append(fields, zap.Int("files", len(commit.Files())))...)
	return commit, nil
}

func (p *Pipeline) sync(ctx context.Context, src vcs.Source, commitID, repositoryURI string) (*model.Commit, error) {
	repo, commit, err := p.proc.Process(ctx, src, commitID, repositoryURI)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpsertCommit(ctx, repo, commit); err != nil {
		return nil, err
	}
	return commit, nil
}

// Failure is a commit that could not be synced.
type Failure struct {
	Commit string
	Err    error
}

// Result summarizes a range import.
type Result struct {
	Synced []string
	Failed []Failure
}

// Import syncs every commit in the range (from, to], oldest first. A failing
// commit is recorded and the import moves on; only an unresolvable range or
// a cancelled context stops it.
func (p *Pipeline) Import(ctx context.Context, src vcs.Source, from, to, repositoryURI string) (*Result, error) {
	ids, err := src.Range(from, to)
	if err != nil {
		return nil, err
	}
	p.logger.Info("importing range",
		zap.String("repository", repositoryURI),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("commits", len(ids)))

	res := &Result{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := p.Sync(ctx, src, id, repositoryURI, TriggerImport); err != nil {
			res.Failed = append(res.Failed, Failure{Commit: id, Err: err})
			continue
		}
		res.Synced = append(res.Synced, id)
	}
	return res, nil
}
