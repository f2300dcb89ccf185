package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/framesight/framesight/internal/broker"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
	"github.com/framesight/framesight/internal/pipeline"
	"github.com/framesight/framesight/internal/report"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/storage"
)

// Pool consumes tasks from the broker and drives jobs through the
// pipeline. One pool runs per process with cfg.Worker.Count goroutines.
type Pool struct {
	broker   broker.Broker
	repo     repository.VideoRepository
	driver   *pipeline.Driver
	layout   *storage.Layout
	cfg      *config.Config
	registry *CancelRegistry
	logger   *slog.Logger

	index     *search.Index
	assembler *report.Assembler

	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(taskBroker broker.Broker, repo repository.VideoRepository, driver *pipeline.Driver, layout *storage.Layout, cfg *config.Config) *Pool {
	return &Pool{
		broker:   taskBroker,
		repo:     repo,
		driver:   driver,
		layout:   layout,
		cfg:      cfg,
		registry: NewCancelRegistry(),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the pool.
func (p *Pool) WithLogger(logger *slog.Logger) *Pool {
	p.logger = observability.WithComponent(logger, "worker")
	return p
}

// WithSearchIndex enables the startup index rebuild from stored reports.
func (p *Pool) WithSearchIndex(index *search.Index, assembler *report.Assembler) *Pool {
	p.index = index
	p.assembler = assembler
	return p
}

// Registry returns the cancellation registry for the API layer.
func (p *Pool) Registry() *CancelRegistry {
	return p.registry
}

// Start recovers interrupted jobs, rebuilds the search index, and launches
// the worker goroutines plus the maintenance schedule. Workers stop when
// ctx is cancelled or the broker is closed; Stop waits for them.
func (p *Pool) Start(ctx context.Context) error {
	p.recoverStale(ctx)
	p.rebuildIndex(ctx)

	for i := range p.cfg.Worker.Count {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", slog.Int("workers", p.cfg.Worker.Count))

	return p.startMaintenance(ctx)
}

// Stop halts maintenance and waits for in-flight jobs to finish. Callers
// cancel the Start context (or close the broker) first.
func (p *Pool) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))

	for {
		task, err := p.broker.Receive(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) || ctx.Err() != nil {
				return
			}
			logger.Error("receiving task", slog.String("error", err.Error()))
			continue
		}
		p.handle(ctx, task, logger)
	}
}

// handle is idempotent against redelivery: tasks whose job is missing or
// no longer queued are acknowledged without work.
func (p *Pool) handle(ctx context.Context, task broker.Task, logger *slog.Logger) {
	video, err := p.repo.Acquire(ctx, task.VideoID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			logger.Debug("task for unknown job, dropping", slog.String("video_id", task.VideoID))
		case errors.Is(err, models.ErrInvalidTransition):
			logger.Debug("task for non-queued job, dropping", slog.String("video_id", task.VideoID))
		default:
			logger.Error("acquiring job",
				slog.String("video_id", task.VideoID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	// Registry cancels carry a cause so the driver can tell a caller's
	// cancel apart from the pool context going away at shutdown.
	jobCtx, cancel := context.WithCancelCause(ctx)
	p.registry.register(video.ID, func() { cancel(pipeline.ErrCancelRequested) })
	defer func() {
		p.registry.unregister(video.ID)
		cancel(context.Canceled)
	}()

	// The driver writes the terminal state itself; the error is log-only.
	if err := p.driver.Run(jobCtx, video); err != nil {
		logger.Warn("job finished with error",
			slog.String("video_id", video.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recoverStale returns jobs orphaned by a crash to the queue. Their
// partial frames are removed so extraction restarts cleanly.
func (p *Pool) recoverStale(ctx context.Context) {
	reset, err := p.repo.ResetStale(ctx, p.cfg.Worker.StaleAfter)
	if err != nil {
		p.logger.Error("resetting stale jobs", slog.String("error", err.Error()))
		return
	}
	for i := range reset {
		id := reset[i].ID
		if err := p.layout.RemoveFrames(id); err != nil {
			p.logger.Warn("removing stale frames",
				slog.String("video_id", id),
				slog.String("error", err.Error()),
			)
		}
		if err := p.broker.Enqueue(ctx, broker.NewTask(id)); err != nil {
			// Left queued; the next sweep retries the enqueue.
			p.logger.Warn("re-enqueueing recovered job",
				slog.String("video_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("recovered stale job", slog.String("video_id", id))
	}
}

// rebuildIndex restores the in-memory search index from stored reports.
func (p *Pool) rebuildIndex(ctx context.Context) {
	if p.index == nil || p.assembler == nil {
		return
	}
	videos, err := p.repo.ListByStatus(ctx, models.StatusCompleted)
	if err != nil {
		p.logger.Error("listing completed jobs for index rebuild", slog.String("error", err.Error()))
		return
	}
	p.index.Rebuild(ctx, videos, p.assembler.ReadReport)
}

// startMaintenance schedules the stale sweep and, when retention is
// configured, the terminal-job purge.
func (p *Pool) startMaintenance(ctx context.Context) error {
	if p.cfg.Worker.StaleSweepCron == "" {
		return nil
	}
	p.cron = cron.New(cron.WithSeconds())

	if _, err := p.cron.AddFunc(p.cfg.Worker.StaleSweepCron, func() {
		p.recoverStale(ctx)
	}); err != nil {
		return err
	}
	if p.cfg.Worker.RetentionMaxAge > 0 {
		if _, err := p.cron.AddFunc(p.cfg.Worker.StaleSweepCron, func() {
			p.purgeExpired(ctx)
		}); err != nil {
			return err
		}
	}
	p.cron.Start()
	return nil
}

// purgeExpired deletes terminal jobs older than the retention window,
// together with their artifacts and index rows.
func (p *Pool) purgeExpired(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.Worker.RetentionMaxAge)

	for _, status := range []models.VideoStatus{models.StatusCompleted, models.StatusFailed} {
		videos, err := p.repo.ListByStatus(ctx, status)
		if err != nil {
			p.logger.Error("listing jobs for retention", slog.String("error", err.Error()))
			return
		}
		for i := range videos {
			v := &videos[i]
			if v.UpdatedAt.After(cutoff) {
				continue
			}
			if err := p.repo.Delete(ctx, v.ID, p.cfg.Worker.StaleAfter); err != nil {
				p.logger.Warn("purging expired job",
					slog.String("video_id", v.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := p.layout.RemoveJob(v.ID); err != nil {
				p.logger.Warn("removing expired artifacts",
					slog.String("video_id", v.ID),
					slog.String("error", err.Error()),
				)
			}
			if p.index != nil {
				p.index.Remove(v.ID)
			}
			p.logger.Info("purged expired job", slog.String("video_id", v.ID))
		}
	}
}
