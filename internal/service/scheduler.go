package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/constants"

	"github.com/sirupsen/logrus"
)

// FullSyncer runs a complete sync pass
type FullSyncer interface {
	SyncAll(ctx context.Context) (*SyncAllResult, error)
}

// Scheduler runs a full sync at start, on every app focus and on an
// interval. A new pass cancels the one still running.
type Scheduler struct {
	syncer   FullSyncer
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	focusCh  chan struct{}
	passes   atomic.Int64

	wg         sync.WaitGroup
	cancelPass context.CancelFunc
}

func NewScheduler(syncer FullSyncer, intervalSec int, logger *logrus.Logger) *Scheduler {
	if intervalSec <= 0 {
		intervalSec = constants.DefaultSyncIntervalSec
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		syncer:   syncer,
		interval: time.Duration(intervalSec) * time.Second,
		logger:   logger,
		stopCh:   make(chan struct{}),
		focusCh:  make(chan struct{}, 1),
	}
}

// Start blocks until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval_sec", s.interval.Seconds()).Info("Starting sync scheduler")

	s.startPass(ctx, "start")
	defer s.finish()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-s.focusCh:
			s.startPass(ctx, "focus")
		case <-ticker.C:
			s.startPass(ctx, "interval")
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Focus requests a sync pass. Requests made while one is pending coalesce.
func (s *Scheduler) Focus() {
	select {
	case s.focusCh <- struct{}{}:
	default:
	}
}

// Passes returns how many passes were started
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}

func (s *Scheduler) startPass(ctx context.Context, reason string) {
	if s.cancelPass != nil {
		s.cancelPass()
	}
	passCtx, cancel := context.WithCancel(ctx)
	s.cancelPass = cancel
	s.passes.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runSync(passCtx, reason)
	}()
}

func (s *Scheduler) finish() {
	if s.cancelPass != nil {
		s.cancelPass()
	}
	s.wg.Wait()
}

func (s *Scheduler) runSync(ctx context.Context, reason string) {
	logger := s.logger.WithField("reason", reason)
	logger.Debug("Running scheduled sync")

	result, err := s.syncer.SyncAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Sync pass superseded")
			return
		}
		logger.WithError(err).Error("Failed to run scheduled sync")
		return
	}
	logger.WithFields(logrus.Fields{
		"synced": result.Synced,
		"failed": result.Failed,
	}).Info("Successfully completed scheduled sync")
}
