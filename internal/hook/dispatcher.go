package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/statisticsnorway/blueprint/internal/ingest"
	"github.com/statisticsnorway/blueprint/internal/lock"
	"github.com/statisticsnorway/blueprint/internal/metrics"
	"github.com/statisticsnorway/blueprint/internal/model"
	"github.com/statisticsnorway/blueprint/internal/vcs"
)

// ErrPoolExhausted is returned when every worker is busy.
var ErrPoolExhausted = errors.New("all workers are busy")

// Workspaces provides an up-to-date working tree for a remote.
type Workspaces interface {
	Source(ctx context.Context, uri string) (vcs.Source, error)
}

// Syncer processes and stores one commit.
type Syncer interface {
	Sync(ctx context.Context, src vcs.Source, commitID, repositoryURI, trigger string) (*model.Commit, error)
}

// Dispatcher runs push events on a bounded set of workers. Jobs for the
// same repository run one at a time since they share a working tree; jobs
// for different repositories run in parallel.
type Dispatcher struct {
	sem        *semaphore.Weighted
	locks      lock.Keyed
	workspaces Workspaces
	syncer     Syncer
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a Dispatcher with the given number of workers.
func NewDispatcher(workers int, ws Workspaces, s Syncer, opts ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sem:        semaphore.NewWeighted(int64(workers)),
		workspaces: ws,
		syncer:     s,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit starts processing ev if a worker is free and returns a channel
// that receives the job's result. It never queues: with every worker busy
// it returns ErrPoolExhausted. The job is detached from ctx cancellation so
// that an abandoned request does not abort it.
func (d *Dispatcher) Submit(ctx context.Context, ev *PushEvent) (<-chan error, error) {
	if !d.sem.TryAcquire(1) {
		return nil, ErrPoolExhausted
	}
	metrics.WorkersBusy.Inc()
	d.wg.Add(1)

	done := make(chan error, 1)
	jobCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer metrics.WorkersBusy.Dec()
		defer d.sem.Release(1)
		done <- d.run(jobCtx, ev)
	}()
	return done, nil
}

func (d *Dispatcher) run(ctx context.Context, ev *PushEvent) error {
	uri := ev.Repository.CloneURL
	commitID := ev.CommitID()

	unlock, err := d.locks.Lock(ctx, model.RepositoryID(uri))
	if err != nil {
		return err
	}
	defer unlock()

	src, err := d.workspaces.Source(ctx, uri)
	if err != nil {
		d.logger.Error("opening workspace",
			zap.String("repository", uri),
			zap.String("commit", commitID),
			zap.Error(err))
		return fmt.Errorf("opening workspace for %s: %w", uri, err)
	}
	_, err = d.syncer.Sync(ctx, src, commitID, uri, ingest.TriggerHook)
	return err
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
