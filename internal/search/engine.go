// Package search answers keyword queries over the message store, ranking
// matches by engagement and recency.
package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/renderinc/channel-search/internal/metrics"
	"github.com/renderinc/channel-search/internal/storage"
)

// DefaultLimit is used when a caller passes a non-positive limit
const DefaultLimit = 50

// Scanner is the read side of the message store
type Scanner interface {
	Scan(ctx context.Context, filter storage.ScanFilter) ([]*storage.IndexedMessage, error)
}

// Options configures an Engine
type Options struct {
	DefaultLimit int
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Engine runs searches against a Scanner
type Engine struct {
	store        Scanner
	defaultLimit int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewEngine creates a search engine
func NewEngine(store Scanner, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Engine{
		store:        store,
		defaultLimit: limit,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Search returns up to limit messages whose normalized text contains the
// normalized query, optionally restricted to channelIDs. A query that
// normalizes to nothing matches nothing and never reaches the store.
func (e *Engine) Search(ctx context.Context, query string, channelIDs []string, limit int) ([]*storage.IndexedMessage, error) {
	needle := storage.NormalizeText(query)
	if needle == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}

	start := time.Now()
	candidates, err := e.store.Scan(ctx, storage.ScanFilter{
		Contains:   needle,
		ChannelIDs: channelIDs,
	})
	if err != nil {
		return nil, err
	}

	Rank(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	elapsed := time.Since(start)
	e.metrics.ObserveSearch(len(candidates), elapsed)
	e.logger.Debug("search complete",
		"query", needle,
		"channels", len(channelIDs),
		"results", len(candidates),
		"duration", elapsed,
	)

	return candidates, nil
}

// Rank orders messages by engagement desc, then date desc with undated
// messages last. Ties keep their input order.
func Rank(msgs []*storage.IndexedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if ea, eb := a.Engagement(), b.Engagement(); ea != eb {
			return ea > eb
		}
		switch {
		case a.Date == nil:
			return false
		case b.Date == nil:
			return true
		default:
			return a.Date.After(*b.Date)
		}
	})
}
