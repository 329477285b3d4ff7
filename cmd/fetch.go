package cmd

import (
	"github.com/spf13/cobra"
)

// newFetchCmd creates the 'fetch' subcommand: one archive cycle per URL.
func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <thread-url>...",
		Short: "Archive threads once",
		Long: `Downloads each thread once, merging into an existing copy when one
is on disk. Threads are processed one after another; a failing thread does
not stop the rest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(a Archiver) error {
				return a.Fetch(cmd.Context(), args)
			})
		},
	}
}
