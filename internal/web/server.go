// Package web exposes search, ingestion and channel stats over a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renderinc/channel-search/internal/indexer"
	"github.com/renderinc/channel-search/internal/source"
	"github.com/renderinc/channel-search/internal/storage"
)

// Searcher answers keyword queries
type Searcher interface {
	Search(ctx context.Context, query string, channelIDs []string, limit int) ([]*storage.IndexedMessage, error)
}

// Store is the read side the API needs from storage
type Store interface {
	Count(ctx context.Context) (int, error)
	GetChannel(ctx context.Context, channelID string) (*storage.Channel, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]*storage.Channel, error)
	ChannelStats(ctx context.Context, channelID string) (*storage.ChannelStats, error)
}

// Options configures a Server
type Options struct {
	DefaultLimit int
	MaxLimit     int
	IndexLimit   int
	Logger       *slog.Logger
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

type Server struct {
	store    Store
	engine   Searcher
	ingester indexer.Ingester
	opts     Options
	logger   *slog.Logger
}

// SearchResponse is the body of /api/search
type SearchResponse struct {
	Query    string                    `json:"query"`
	Channels []string                  `json:"channels,omitempty"`
	Count    int                       `json:"count"`
	Results  []*storage.IndexedMessage `json:"results"`
}

// IngestionResponse is the body of a channel index request
type IngestionResponse struct {
	RunID          string    `json:"run_id"`
	Success        bool      `json:"success"`
	ChannelID      string    `json:"channel_id"`
	ChannelTitle   string    `json:"channel_title,omitempty"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Skipped        int       `json:"skipped"`
	TotalProcessed int       `json:"total_processed"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// NewServer creates the API server. ingester may be nil when no source is
// configured; the index route then answers 503.
func NewServer(store Store, engine Searcher, ingester indexer.Ingester, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.IndexLimit <= 0 {
		opts.IndexLimit = 1000
	}

	return &Server{
		store:    store,
		engine:   engine,
		ingester: ingester,
		opts:     opts,
		logger:   opts.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{id}/stats", s.handleChannelStats)
		r.Post("/channels/{id}/index", s.handleIndexChannel)
	})

	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit, err := queryInt(r, "limit", s.opts.DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	limit = min(limit, s.opts.MaxLimit)

	channels := channelParams(r)

	results, err := s.engine.Search(r.Context(), query, channels, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("search failed"))
		return
	}
	if results == nil {
		results = []*storage.IndexedMessage{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:    query,
		Channels: channels,
		Count:    len(results),
		Results:  results,
	})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	channels, err := s.store.ListChannels(r.Context(), activeOnly)
	if err != nil {
		s.logger.Error("list channels failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("list channels failed"))
		return
	}
	if channels == nil {
		channels = []*storage.Channel{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")

	stats, err := s.store.ChannelStats(r.Context(), channelID)
	if err != nil {
		s.logger.Error("channel stats failed", "channel_id", channelID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("channel stats failed"))
		return
	}

	if stats.TotalMessages == 0 {
		ch, err := s.store.GetChannel(r.Context(), channelID)
		if err != nil {
			s.logger.Error("get channel failed", "channel_id", channelID, "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("channel stats failed"))
			return
		}
		if ch == nil {
			writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
			return
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIndexChannel(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no source configured"))
		return
	}

	channelID := chi.URLParam(r, "id")

	limit, err := queryInt(r, "limit", s.opts.IndexLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since must be RFC 3339: %w", err))
			return
		}
		since = &t
	}

	res := s.ingester.IngestChannel(r.Context(), channelID, limit, since)
	writeJSON(w, ingestionStatus(res), toIngestionResponse(res))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"messages_in_store": count,
		"ingestion_enabled": s.ingester != nil,
	})
}

// logRequests logs one line per request once it completes
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func ingestionStatus(res *indexer.IngestionResult) int {
	if res.Success {
		return http.StatusOK
	}

	var resolveErr *indexer.EntityResolutionError
	switch {
	case errors.Is(res.Error, source.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.As(res.Error, &resolveErr):
		return http.StatusUnprocessableEntity
	case errors.Is(res.Error, context.Canceled), errors.Is(res.Error, context.DeadlineExceeded):
		// checked before ErrStore: a store call can fail only because ctx ended
		return http.StatusGatewayTimeout
	case errors.Is(res.Error, storage.ErrStore):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func toIngestionResponse(res *indexer.IngestionResult) IngestionResponse {
	resp := IngestionResponse{
		RunID:          res.RunID,
		Success:        res.Success,
		ChannelID:      res.ChannelID,
		ChannelTitle:   res.ChannelTitle,
		Created:        res.Created,
		Updated:        res.Updated,
		Skipped:        res.Skipped,
		TotalProcessed: res.TotalProcessed,
		StartedAt:      res.StartedAt,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if res.Error != nil {
		resp.Error = res.Error.Error()
	}
	return resp
}

// channelParams accepts ?channel=a&channel=b as well as ?channel=a,b
func channelParams(r *http.Request) []string {
	var ids []string
	for _, v := range r.URL.Query()["channel"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
