package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/debug"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
	"github.com/yeswehack/ywh2bugtracker/internal/telemetry"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

var (
	configFile   string
	configFormat string
	verboseFlag  bool
	quietFlag    bool
)

// usageError marks argument problems so Execute maps them to exit code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...interface{}) error {
	return usageError{fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:     "ywh2bt",
	Short:   "Synchronize YesWeHack reports with issue trackers",
	Long: `ywh2bt mirrors vulnerability reports from the YesWeHack platform into
external issue trackers (GitHub, GitLab, Jira, ServiceNow) and feeds
tracker-side activity back to the platform.

Synchronization is batch-triggered: each run reconciles every configured
program's reports against their target trackers exactly once.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&configFormat, "config-format", "", "configuration format: yaml or json (default: from file extension)")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "suppress non-essential output")
	rootCmd.Flags().BoolP("version", "V", false, "print version and exit")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(validateCmd, synchronizeCmd, testCmd, convertCmd, schemaCmd)
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "ywh2bt", Version); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, syncerr.FormatChain(err))
	return exitCode(ctx, err)
}

func exitCode(ctx context.Context, err error) int {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return exitInterrupted
	}
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	// Cobra reports unknown subcommands as plain errors.
	if strings.Contains(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitError
}

// loadConfig reads and validates the configured file. Every subcommand that
// touches the configuration goes through here.
func loadConfig() (*config.Root, error) {
	if configFile == "" {
		return nil, usagef("--config-file is required")
	}
	switch configFormat {
	case "", "yaml", "json":
	default:
		return nil, usagef("--config-format must be yaml or json, got %q", configFormat)
	}
	root, err := config.LoadAs(configFile, configFormat)
	if err != nil {
		return nil, err
	}
	if errs := root.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, failStyle.Render("invalid: ")+e.Error())
		}
		return nil, syncerr.New(syncerr.KindConfiguration,
			"%s: %d validation error(s)", configFile, len(errs))
	}
	return root, nil
}
