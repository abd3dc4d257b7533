package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/renderinc/channel-search/internal/metrics"
	"github.com/renderinc/channel-search/internal/storage"
)

// Ingester runs one channel ingestion; *Indexer implements it
type Ingester interface {
	IngestChannel(ctx context.Context, channelID string, limit int, since *time.Time) *IngestionResult
}

// Registry lists the channels to crawl
type Registry interface {
	ListActiveChannels(ctx context.Context) ([]*storage.Channel, error)
}

// SchedulerOptions controls pacing of multi-channel runs
type SchedulerOptions struct {
	BackfillPause time.Duration // between channels in IndexAll
	UpdatePause   time.Duration // between channels in a periodic pass
	ErrorBackoff  time.Duration // after a failed periodic pass
	UpdateLimit   int
	UpdateWindow  time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// DefaultSchedulerOptions returns the pacing used against live sources
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		BackfillPause: 3 * time.Second,
		UpdatePause:   5 * time.Second,
		ErrorBackoff:  time.Minute,
		UpdateLimit:   500,
		UpdateWindow:  7 * 24 * time.Hour,
	}
}

// Scheduler drives the indexer across every registered channel, either once
// (IndexAll) or periodically. Channels are always processed one at a time.
type Scheduler struct {
	ingester Ingester
	registry Registry
	opts     SchedulerOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler creates a scheduler
func NewScheduler(ingester Ingester, registry Registry, opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		ingester: ingester,
		registry: registry,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// IndexAll backfills every active channel, up to limitPerChannel messages
// each. Per-channel failures are in the results; only a registry failure
// or a cancelled ctx is returned as an error.
func (s *Scheduler) IndexAll(ctx context.Context, limitPerChannel int) ([]*IngestionResult, error) {
	channels, err := s.registry.ListActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}

	s.logger.Info("indexing curated channels", "channels", len(channels), "limit", limitPerChannel)

	results := make([]*IngestionResult, 0, len(channels))
	for i, ch := range channels {
		if i > 0 {
			if err := sleepContext(ctx, s.opts.BackfillPause); err != nil {
				return results, err
			}
		}
		results = append(results, s.ingester.IngestChannel(ctx, ch.ChannelID, limitPerChannel, nil))
	}

	return results, nil
}

// UpdateChannel ingests only the recent window of one channel
func (s *Scheduler) UpdateChannel(ctx context.Context, channelID string) *IngestionResult {
	since := s.now().Add(-s.opts.UpdateWindow)
	return s.ingester.IngestChannel(ctx, channelID, s.opts.UpdateLimit, &since)
}

// StartPeriodicUpdate starts the update loop in the background. Every
// interval it updates the recent window of each active channel. It fails
// with ErrAlreadyRunning while a previous loop has not exited yet.
func (s *Scheduler) StartPeriodicUpdate(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid update interval %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !loopExited(s.done) {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, interval, s.stop, s.done)
	return nil
}

// StopPeriodicUpdate asks the loop to exit. It takes effect at the next
// channel boundary; an ingestion already in progress runs to completion.
func (s *Scheduler) StopPeriodicUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.logger.Info("stopping periodic update")
}

// Running reports whether the periodic loop has been started and not stopped
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until the most recently started loop has exited
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	defer s.markStopped(stop)

	s.logger.Info("starting periodic update", "interval", interval)

	for {
		if stopped(ctx, stop) {
			return
		}

		err := s.runPass(ctx, stop)
		s.metrics.ObservePass(err)

		wait := interval
		if err != nil {
			s.logger.Error("periodic update pass failed", "error", err, "backoff", s.opts.ErrorBackoff)
			wait = s.opts.ErrorBackoff
		} else {
			s.logger.Info("waiting for next update", "wait", wait)
		}

		if !pause(ctx, stop, wait) {
			return
		}
	}
}

// runPass updates every active channel once. Panics are turned into errors
// so the loop survives them.
func (s *Scheduler) runPass(ctx context.Context, stop chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in update pass: %v", r)
		}
	}()

	channels, err := s.registry.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("list active channels: %w", err)
	}

	for i, ch := range channels {
		if i > 0 && !pause(ctx, stop, s.opts.UpdatePause) {
			return nil
		}
		if stopped(ctx, stop) {
			return nil
		}

		s.logger.Info("updating channel index", "channel_id", ch.ChannelID, "window", s.opts.UpdateWindow)
		s.UpdateChannel(ctx, ch.ChannelID)
	}

	return nil
}

// markStopped clears the running flag if it still belongs to this loop,
// e.g. when ctx ended the loop rather than StopPeriodicUpdate.
func (s *Scheduler) markStopped(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == stop && s.running {
		s.running = false
		close(stop)
	}
}

// loopExited reports whether the loop owning done has returned
func loopExited(done chan struct{}) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func stopped(ctx context.Context, stop chan struct{}) bool {
	return sleepOrStop(ctx, stop, 0) != nil
}

// pause waits for d and reports false if the loop should exit instead
func pause(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	return sleepOrStop(ctx, stop, d) == nil
}

var _ Ingester = (*Indexer)(nil)
