// Package dispatcher fans a pool of crawl workers out over the domain work
// queue. Each worker loops claim -> crawl -> release; when nothing is
// claimable the worker sleeps for the poll interval instead of spinning.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/extract"
	"github.com/mailsift/mailsift/internal/metrics"
)

// Claimer is the slice of the lease manager the dispatcher needs.
type Claimer interface {
	ClaimNext(ctx context.Context, workerID string) (extract.DomainItem, error)
}

// Runner crawls one claimed item and releases it.
type Runner interface {
	ID() string
	Run(ctx context.Context, item extract.DomainItem) (extract.DomainOutcome, error)
}

// ReleaseHook runs after a worker releases a domain; the search controller
// uses it for the completion check and the domain-completed event.
type ReleaseHook func(ctx context.Context, item extract.DomainItem, outcome extract.DomainOutcome)

// Config controls dispatcher behavior.
type Config struct {
	PollInterval time.Duration
}

// Dispatcher runs the worker pool.
type Dispatcher struct {
	leases    Claimer
	workers   []Runner
	onRelease ReleaseHook
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. hook may be nil.
func New(leases Claimer, workers []Runner, hook ReleaseHook, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		leases:    leases,
		workers:   workers,
		onRelease: hook,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			d.runWorker(ctx, wk)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, wk Runner) {
	log := d.logger.With(zap.String("worker_id", wk.ID()))
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := d.leases.ClaimNext(ctx, wk.ID())
		if errors.Is(err, extract.ErrNoWork) {
			metrics.ObserveClaim("no_work")
			if !d.sleep(ctx) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ObserveClaim("error")
			log.Error("claim failed", zap.Error(err))
			if !d.sleep(ctx) {
				return
			}
			continue
		}
		metrics.ObserveClaim("claimed")

		metrics.IncActiveWorkers()
		outcome, runErr := wk.Run(ctx, item)
		metrics.DecActiveWorkers()

		if runErr != nil {
			if errors.Is(runErr, extract.ErrLeaseLost) {
				// Another worker owns the item now; nothing to report.
				continue
			}
			log.Error("crawl run failed", zap.String("domain_id", item.ID), zap.Error(runErr))
			continue
		}

		metrics.ObserveDomainReleased(string(outcome.Status))
		if d.onRelease != nil {
			d.onRelease(ctx, item, outcome)
		}
	}
}

// sleep waits out the poll interval; false means the context finished.
func (d *Dispatcher) sleep(ctx context.Context) bool {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
