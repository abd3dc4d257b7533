package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const previewLength = 160

func newSearchCommand(opts *RootOptions) *cobra.Command {
	var (
		channels []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search stored messages",
		Long: `Find messages containing the query (case and whitespace insensitive),
ranked by views + forwards, then by date.

Example:
  channel-search search release notes
  channel-search search --channel gonews --limit 5 generics`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.engine.Search(cmd.Context(), query, channels, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found")
				return nil
			}

			fmt.Fprintf(out, "Found %d results:\n\n", len(results))
			for i, m := range results {
				fmt.Fprintf(out, "%d. [%s #%d]", i+1, m.ChannelID, m.MessageID)
				if m.Date != nil {
					fmt.Fprintf(out, " %s", m.Date.Format(time.DateOnly))
				}
				fmt.Fprintf(out, "  views %d, forwards %d\n", m.Views, m.Forwards)
				fmt.Fprintf(out, "   %s\n\n", preview(m.Text))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channel", nil, "restrict to these channel ids")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default from config)")

	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [channel]",
		Short: "Show store statistics, overall or for one channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				count, err := a.db.Count(ctx)
				if err != nil {
					return err
				}
				channels, err := a.db.ListChannels(ctx, false)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "=== Index Statistics ===")
				fmt.Fprintf(out, "Messages in store:   %d\n", count)
				fmt.Fprintf(out, "Registered channels: %d\n", len(channels))
				return nil
			}

			stats, err := a.db.ChannelStats(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "=== %s ===\n", args[0])
			fmt.Fprintf(out, "Messages:       %d\n", stats.TotalMessages)
			fmt.Fprintf(out, "Total views:    %d\n", stats.TotalViews)
			fmt.Fprintf(out, "Total forwards: %d\n", stats.TotalForwards)
			if stats.LatestMessage != nil {
				fmt.Fprintf(out, "Latest message: %s\n", stats.LatestMessage.Format(time.RFC3339))
			}
			if stats.LastIndexedAt != nil {
				fmt.Fprintf(out, "Last indexed:   %s\n", stats.LastIndexedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// preview flattens text to one line and cuts it at previewLength runes
func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= previewLength {
		return flat
	}
	return string(runes[:previewLength]) + "…"
}
