package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tujanalyst/tujanalyst/internal/config"
	"github.com/tujanalyst/tujanalyst/internal/models"
	"github.com/tujanalyst/tujanalyst/internal/pipeline"
)

// Poller runs one ingestion cycle.
type Poller interface {
	Poll(ctx context.Context) ([]models.TriggerEvent, error)
}

// BatchProcessor drains pending triggers.
type BatchProcessor interface {
	ProcessPendingTriggers(ctx context.Context, limit int) (pipeline.BatchResult, error)
}

// Scheduler drives the ingestion poll and the pending-trigger batch on
// independent intervals. A tick that fires while the same job is still
// running is dropped.
type Scheduler struct {
	cron      *cron.Cron
	poller    Poller
	processor BatchProcessor
	batchSize int
	logger    *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs enabled in cfg. poller may be nil when polling is
// disabled.
func New(cfg config.ScheduleConfig, poller Poller, processor BatchProcessor, logger *slog.Logger) (*Scheduler, error) {
	if processor == nil {
		return nil, errors.New("scheduler: batch processor is required")
	}
	if cfg.PipelineInterval <= 0 {
		return nil, errors.New("scheduler: pipeline interval must be positive")
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		poller:    poller,
		processor: processor,
		batchSize: cfg.BatchSize,
		logger:    logger,
		ctx:       context.Background(),
	}

	if cfg.PollingEnabled && poller != nil {
		if cfg.PollInterval <= 0 {
			return nil, errors.New("scheduler: poll interval must be positive")
		}
		if _, err := s.cron.AddFunc(every(cfg.PollInterval), s.runPoll); err != nil {
			return nil, fmt.Errorf("add poll job: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(every(cfg.PipelineInterval), s.runBatch); err != nil {
		return nil, fmt.Errorf("add pipeline job: %w", err)
	}
	return s, nil
}

// Start begins running jobs. Jobs see ctx and stop when it is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runPoll() {
	started := time.Now()
	created, err := s.poller.Poll(s.jobContext())
	if err != nil {
		s.logger.Error("poll cycle failed", "error", err)
		return
	}
	s.logger.Info("poll cycle complete", "created", len(created), "duration", time.Since(started))
}

func (s *Scheduler) runBatch() {
	started := time.Now()
	result, err := s.processor.ProcessPendingTriggers(s.jobContext(), s.batchSize)
	if err != nil {
		s.logger.Error("pipeline batch failed", "error", err)
		return
	}
	if result.Attempted > 0 {
		s.logger.Info("pipeline batch complete", "attempted", result.Attempted, "duration", time.Since(started))
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
