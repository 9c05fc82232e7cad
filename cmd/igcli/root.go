package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/eshaffer321/ig-go/internal/config"
	"github.com/eshaffer321/ig-go/pkg/ig"
)

// globalOptions are the flags shared by every command
type globalOptions struct {
	verbose     bool
	noColor     bool
	sessionFile string
}

func newRootCommand(version, commit, date string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "igcli",
		Short: "Command line client for the IG REST trading API",
		Long: `igcli logs in to the IG REST API with the credentials found in the
IG_USERNAME, IG_PASSWORD and IG_API_KEY environment variables and runs
rate-limited requests against it.

Set IG_API_VERSION=2 for CST/X-SECURITY-TOKEN sessions; the default is OAuth.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log requests and session changes to stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", os.Getenv("IG_SESSION_FILE"), "reuse and save the session in this file")

	rootCmd.AddCommand(
		newLoginCommand(opts),
		newSessionCommand(opts),
		newSwitchAccountCommand(opts),
		newHierarchyCommand(opts),
		newGetCommand(opts),
		newLimitsCommand(opts),
	)

	return rootCmd
}

// newClient builds a client from the environment and restores a saved
// session when one is configured
func (o *globalOptions) newClient() (*ig.Client, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := ig.NewClientFromConfig(cfg, newLogger(os.Stderr, o.verbose))
	if err != nil {
		return nil, err
	}

	if o.sessionFile != "" {
		if err := client.Session.LoadSession(o.sessionFile); err != nil {
			slog.Debug("No reusable session", "path", o.sessionFile, "error", err)
		}
	}
	return client, nil
}

// saveSession writes the current session when a session file is configured
func (o *globalOptions) saveSession(client *ig.Client) error {
	if o.sessionFile == "" || client.Session.Current() == nil {
		return nil
	}
	return client.Session.SaveSession(o.sessionFile)
}

func (o *globalOptions) aurora() aurora.Aurora {
	return aurora.NewAurora(!o.noColor)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
