// Package indexer pulls channel messages from a source connector into the
// message store, one channel at a time.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/renderinc/channel-search/internal/metrics"
	"github.com/renderinc/channel-search/internal/source"
	"github.com/renderinc/channel-search/internal/storage"
)

// Store is the write side of the message store
type Store interface {
	Upsert(ctx context.Context, msg *storage.IndexedMessage) (*storage.IndexedMessage, bool, error)
}

// Options tunes the pipeline's cooperative throttling
type Options struct {
	// ThrottleEvery pauses after this many stored messages; 0 disables it.
	ThrottleEvery int
	ThrottlePause time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// DefaultOptions returns the throttling used against live sources
func DefaultOptions() Options {
	return Options{
		ThrottleEvery: 100,
		ThrottlePause: time.Second,
	}
}

// Indexer handles ingesting channels from a connector
type Indexer struct {
	connector source.Connector
	store     Store
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new indexer
func New(connector source.Connector, store Store, opts Options) *Indexer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		connector: connector,
		store:     store,
		opts:      opts,
		logger:    logger,
		metrics:   opts.Metrics,
		sleep:     sleepContext,
	}
}

// IngestionResult holds the outcome of one channel run
type IngestionResult struct {
	RunID          string
	Success        bool
	ChannelID      string
	ChannelTitle   string
	Created        int
	Updated        int
	Skipped        int
	TotalProcessed int
	Error          error
	StartedAt      time.Time
	Duration       time.Duration
}

// IngestChannel pulls up to limit messages, newest first, and upserts them.
// When since is set the connector stops at messages older than it.
//
// Failures are reported in the result, never returned, so callers running
// many channels are not interrupted by one of them.
func (ix *Indexer) IngestChannel(ctx context.Context, channelID string, limit int, since *time.Time) *IngestionResult {
	res := &IngestionResult{
		RunID:     uuid.NewString(),
		ChannelID: channelID,
		StartedAt: time.Now(),
	}
	logger := ix.logger.With("channel_id", channelID, "run_id", res.RunID)

	attrs := []any{"limit", limit}
	if since != nil {
		attrs = append(attrs, "since", since.Format(time.RFC3339))
	}
	logger.Info("starting channel ingestion", attrs...)

	err := ix.ingest(ctx, logger, res, limit, since)

	res.TotalProcessed = res.Created + res.Updated + res.Skipped
	res.Duration = time.Since(res.StartedAt)
	res.Success = err == nil
	res.Error = err
	ix.metrics.ObserveIngestion(res.Success, res.Created, res.Updated, res.Skipped, res.Duration)

	if err != nil {
		logger.Error("channel ingestion failed",
			"error", err,
			"created", res.Created,
			"updated", res.Updated,
			"skipped", res.Skipped,
		)
		return res
	}

	logger.Info("channel ingestion complete",
		"title", res.ChannelTitle,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"duration", res.Duration,
	)
	return res
}

func (ix *Indexer) ingest(ctx context.Context, logger *slog.Logger, res *IngestionResult, limit int, since *time.Time) error {
	// 1. Resolve the channel
	entity, err := ix.connector.ResolveEntity(ctx, res.ChannelID)
	if err != nil {
		return &EntityResolutionError{ChannelID: res.ChannelID, Err: err}
	}
	if !entity.IsChannel() {
		return &EntityResolutionError{
			ChannelID: res.ChannelID,
			Err:       fmt.Errorf("%w: got %q", source.ErrNotChannel, entity.Kind),
		}
	}
	res.ChannelTitle = entity.Title

	// 2. Walk messages newest first
	opts := source.IterOptions{Limit: limit, Since: since}
	for msg, err := range ix.connector.Messages(ctx, entity, opts) {
		if err != nil {
			return &ConnectorError{ChannelID: res.ChannelID, Err: err}
		}

		record, ok := extractMessage(res.ChannelID, msg)
		if !ok {
			res.Skipped++
			continue
		}

		// 3. Upsert; the store decides created vs updated
		_, created, err := ix.store.Upsert(ctx, record)
		if err != nil {
			return fmt.Errorf("store message %d: %w", msg.ID, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}

		// 4. Yield to the source's rate limits
		stored := res.Created + res.Updated
		if ix.opts.ThrottleEvery > 0 && stored%ix.opts.ThrottleEvery == 0 {
			logger.Info("throttling ingestion", "stored", stored, "pause", ix.opts.ThrottlePause)
			if err := ix.sleep(ctx, ix.opts.ThrottlePause); err != nil {
				return fmt.Errorf("throttle pause: %w", err)
			}
		}
	}

	return nil
}

// extractMessage converts a raw message into a store record. Messages
// without text, or without a usable id, are not indexed.
func extractMessage(channelID string, msg *source.Message) (*storage.IndexedMessage, bool) {
	if msg == nil || msg.ID <= 0 || strings.TrimSpace(msg.Text) == "" {
		return nil, false
	}

	record := &storage.IndexedMessage{
		ChannelID: channelID,
		MessageID: msg.ID,
		Text:      msg.Text,
		Views:     max(msg.Views, 0),
		Forwards:  max(msg.Forwards, 0),
		HasMedia:  msg.Media != "",
		MediaKind: mediaKind(msg.Media),
	}
	if !msg.Date.IsZero() {
		date := msg.Date
		record.Date = &date
	}

	return record, true
}

func mediaKind(media string) storage.MediaKind {
	switch strings.ToLower(media) {
	case "photo":
		return storage.MediaPhoto
	case "video":
		return storage.MediaVideo
	case "document":
		return storage.MediaDocument
	default:
		return storage.MediaNone
	}
}

// errStopped is returned by sleepOrStop when the stop channel closes
var errStopped = errors.New("stopped")

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	return sleepOrStop(ctx, nil, d)
}

// sleepOrStop waits for d. It returns ctx.Err() or errStopped if ctx ends or
// stop closes first; a nil stop never fires.
func sleepOrStop(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		select {
		case <-stop:
			return errStopped
		default:
			return ctx.Err()
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
