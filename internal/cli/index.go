package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/channel-search/internal/indexer"
)

func newIndexCommand(opts *RootOptions) *cobra.Command {
	var (
		limit int
		since string
	)

	cmd := &cobra.Command{
		Use:   "index <channel>",
		Short: "Ingest one channel",
		Long: `Pull up to --limit messages from a channel, newest first, and upsert
them into the store. --since stops at messages older than the given
RFC 3339 time or duration ago (e.g. 72h).

Example:
  channel-search index gonews --limit 500
  channel-search index gonews --since 168h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireIndexer(); err != nil {
				return err
			}

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Indexer.DefaultLimit
			}
			sinceTime, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}

			res := a.indexer.IngestChannel(cmd.Context(), args[0], limit, sinceTime)
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return res.Error
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum messages to read (0 = no cap)")
	cmd.Flags().StringVar(&since, "since", "", "only messages newer than an RFC 3339 time or a duration ago")

	return cmd
}

func newIndexAllCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "index-all",
		Short: "Backfill every active channel in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireIndexer(); err != nil {
				return err
			}

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Indexer.DefaultLimit
			}

			results, err := a.scheduler.IndexAll(cmd.Context(), limit)
			out := cmd.OutOrStdout()
			failed := 0
			for _, res := range results {
				printResult(out, res)
				if !res.Success {
					failed++
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Indexed %d channels, %d failed\n", len(results), failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum messages per channel (0 = no cap)")

	return cmd
}

func newUpdateCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Periodically refresh the recent window of every active channel",
		Long: `Run the periodic update loop until interrupted. Each pass re-reads the
recent window of every active channel so engagement counters stay fresh.
SIGINT/SIGTERM stop the loop after the channel in progress finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireIndexer(); err != nil {
				return err
			}

			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Scheduler.Interval
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runUpdateLoop(ctx, a.scheduler, interval, a.logger.Info)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 6*time.Hour, "time between update passes")

	return cmd
}

// runUpdateLoop runs the scheduler until a signal arrives or ctx ends
func runUpdateLoop(ctx context.Context, s *indexer.Scheduler, interval time.Duration, info func(string, ...any)) error {
	if err := s.StartPeriodicUpdate(ctx, interval); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		info("received signal, stopping after current channel", "signal", sig.String())
	case <-ctx.Done():
	}

	stopUpdates(s)
	return nil
}

// stopUpdates ends the loop after the channel in flight and waits for it
func stopUpdates(s *indexer.Scheduler) {
	s.StopPeriodicUpdate()
	s.Wait()
}

// parseSince accepts an RFC 3339 time or a duration before now
func parseSince(v string, now time.Time) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid --since %q: want RFC 3339 time or positive duration", v)
	}
	t := now.Add(-d)
	return &t, nil
}

func printResult(w io.Writer, res *indexer.IngestionResult) {
	if !res.Success {
		fmt.Fprintf(w, "✗ %s: %v (created %d, updated %d, skipped %d)\n",
			res.ChannelID, res.Error, res.Created, res.Updated, res.Skipped)
		return
	}

	title := res.ChannelTitle
	if title == "" {
		title = res.ChannelID
	}
	fmt.Fprintf(w, "✓ %s: created %d, updated %d, skipped %d, total %d in %v\n",
		title, res.Created, res.Updated, res.Skipped, res.TotalProcessed, res.Duration.Round(time.Millisecond))
}
