// Package cmd defines the CLI commands of the thread-archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/app"
	"github.com/JakeFAU/thread-archiver/internal/config"
	"github.com/JakeFAU/thread-archiver/internal/logging"
	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Archiver is what the subcommands need from the application container.
type Archiver interface {
	Fetch(ctx context.Context, urls []string) error
	Watch(ctx context.Context, urls []string) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can swap in
// a fake.
var newApp = func(cfg config.Config, logger *zap.Logger, out io.Writer) (Archiver, error) {
	return app.New(cfg, logger, app.WithSubscriber(consolePrinter(out)))
}

type rootOptions struct {
	cfgFile    string
	verbose    bool
	debug      bool
	noMerge    bool
	forceMerge bool
}

// flagKeys maps persistent flags onto their viper keys.
var flagKeys = map[string]string{
	"dest":               "archive.root",
	"output":             "archive.filename",
	"no-subfolder":       "archive.no_subfolder",
	"board-type":         "archive.board_type",
	"include-ext":        "archive.include_extensions",
	"force":              "poll.force",
	"retries":            "poll.max_retries",
	"interval":           "poll.interval",
	"auto-increment":     "poll.auto_increment",
	"max-auto-increment": "poll.max_auto_increment",
	"retry-increment":    "poll.retry_increment",
	"user-agent":         "http.user_agent",
	"metrics-addr":       "metrics.addr",
	"log-file":           "logging.file",
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "thread-archiver",
		Short: "Archive imageboard threads to disk and keep them up to date.",
		Long: `thread-archiver mirrors imageboard threads into a local directory,
rewriting links to point at downloaded copies of images and stylesheets.
Repeated checks merge new posts into the saved copy so posts deleted
upstream are kept.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd.Flags(), v, opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{app: appInstance, logger: logger}))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log informational messages")
	pf.BoolVar(&opts.debug, "debug", false, "log debug messages")
	pf.String("dest", ".", "archive root directory")
	pf.StringP("output", "o", "", "artifact file name (default <thread_id>.html)")
	pf.Bool("no-subfolder", false, "write into the root instead of <site>/<board>/<thread_id>")
	pf.StringP("board-type", "t", "", "board software of the site (4chan, tinyboard, mlpchan)")
	pf.BoolVar(&opts.noMerge, "no-merge", false, "replace the saved thread on every update")
	pf.BoolVar(&opts.forceMerge, "force-merge", false, "merge even when the board type is unknown")
	pf.StringSlice("include-ext", nil, "extra file extensions to download, ';' or ',' separated")
	pf.BoolP("force", "f", false, "skip the If-Modified-Since header on the first check")
	pf.IntP("retries", "r", 10, "retries after a failed check before giving up")
	pf.DurationP("interval", "i", 30*time.Second, "base interval between checks")
	pf.Duration("auto-increment", 5*time.Second, "added to the interval per unchanged check")
	pf.Duration("max-auto-increment", 90*time.Second, "cap on the accumulated auto increment")
	pf.Duration("retry-increment", 120*time.Second, "wait per retry after a failed check")
	pf.String("user-agent", "", "User-Agent header (default random browser agent)")
	pf.String("metrics-addr", "", "serve /healthz, /metrics and /v1/threads on this address")
	pf.String("log-file", "", "also write JSON logs to this rotating file")

	cmd.AddCommand(newFetchCmd(), newWatchCmd())
	return cmd
}

// buildConfig binds the flags into v and loads the validated config.
func buildConfig(flags *pflag.FlagSet, v *viper.Viper, opts *rootOptions) (config.Config, error) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return config.Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	switch {
	case opts.noMerge && opts.forceMerge:
		return config.Config{}, errors.New("--no-merge and --force-merge are mutually exclusive")
	case opts.noMerge:
		v.Set("archive.merge", config.MergeOff)
	case opts.forceMerge:
		v.Set("archive.merge", config.MergeOn)
	}
	if opts.verbose || opts.debug {
		v.Set("logging.level", logging.Level(opts.verbose, opts.debug))
	}
	cfg, err := config.LoadFrom(v, opts.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// session is what PersistentPreRunE hands to the subcommands.
type session struct {
	app    Archiver
	logger *zap.Logger
}

// runWithApp runs fn against the application built for cmd and always
// flushes the application and logger afterwards.
func runWithApp(cmd *cobra.Command, fn func(Archiver) error) error {
	s, ok := cmd.Context().Value(appKey).(*session)
	if !ok || s == nil || s.app == nil {
		return errors.New("application services not initialized")
	}
	runErr := fn(s.app)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
	defer cancel()
	if err := s.app.Close(closeCtx); err != nil {
		s.logger.Warn("close application services", zap.Error(err))
	}
	_ = s.logger.Sync()
	return runErr
}

// consolePrinter writes user-facing progress messages to out.
func consolePrinter(out io.Writer) func(progress.Event) {
	return func(evt progress.Event) {
		if evt.Stage != progress.StageMessage {
			return
		}
		_, _ = fmt.Fprintln(out, evt.Message)
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Stderr().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
