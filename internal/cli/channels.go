package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/renderinc/channel-search/internal/storage"
)

func newChannelsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage the curated channel registry",
	}

	cmd.AddCommand(newChannelsAddCommand(opts))
	cmd.AddCommand(newChannelsListCommand(opts))
	cmd.AddCommand(newChannelsSetActiveCommand(opts, "enable", true))
	cmd.AddCommand(newChannelsSetActiveCommand(opts, "disable", false))

	return cmd
}

func newChannelsAddCommand(opts *RootOptions) *cobra.Command {
	var ch storage.Channel

	cmd := &cobra.Command{
		Use:   "add <channel>",
		Short: "Register a channel for crawling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ch.ChannelID = args[0]
			stored, created, err := a.db.AddChannel(cmd.Context(), &ch)
			if err != nil {
				return err
			}

			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", stored.ChannelID, stored.Title)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already registered\n", stored.ChannelID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ch.Title, "title", "", "display title")
	cmd.Flags().StringVar(&ch.Username, "username", "", "public username")
	cmd.Flags().StringVar(&ch.Description, "description", "", "description")
	cmd.Flags().IntVar(&ch.Rating, "rating", 0, "ordering weight, higher first")

	return cmd
}

func newChannelsListCommand(opts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered channels, best rated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			channels, err := a.db.ListChannels(cmd.Context(), !all)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANNEL\tTITLE\tRATING\tACTIVE")
			for _, ch := range channels {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", ch.ChannelID, ch.Title, ch.Rating, ch.IsActive)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include inactive channels")

	return cmd
}

func newChannelsSetActiveCommand(opts *RootOptions, name string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <channel>",
		Short: fmt.Sprintf("%s crawling of a registered channel", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.db.SetChannelActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("channel %s is not registered", args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], name)
			return nil
		},
	}
}
