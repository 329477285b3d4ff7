package cmd

import (
	"github.com/spf13/cobra"
)

// newWatchCmd creates the 'watch' subcommand: continuous polling.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <thread-url>...",
		Short: "Archive threads and keep checking for new posts",
		Long: `Polls each thread until it 404s, retries run out, or the process is
interrupted. Several URLs are watched concurrently and independently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(a Archiver) error {
				return a.Watch(cmd.Context(), args)
			})
		},
	}
}
