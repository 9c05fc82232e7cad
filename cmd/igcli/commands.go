package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/eshaffer321/ig-go/pkg/ig"
)

func newLoginCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and print the new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			sess, err := client.Session.Login(cmd.Context())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), opts.aurora().Green("Logged in"))
			printSession(cmd.OutOrStdout(), opts.aurora(), sess)
			return nil
		},
	}
}

func newSessionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the current session, logging in or refreshing if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			sess, err := client.Session.Get(cmd.Context())
			if err != nil {
				return err
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}

			printSession(cmd.OutOrStdout(), opts.aurora(), sess)
			return nil
		},
	}
}

func newSwitchAccountCommand(opts *globalOptions) *cobra.Command {
	var setDefault bool

	cmd := &cobra.Command{
		Use:   "switch-account <account-id>",
		Short: "Switch a CST session to another account",
		Long: `Switch the session to another account of the same client.

Only CST/X-SECURITY-TOKEN sessions (IG_API_VERSION=2) can switch; OAuth
sessions are pinned to the account they logged in with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			var def *bool
			if cmd.Flags().Changed("default") {
				def = &setDefault
			}

			var sess *ig.Session
			if client.Session.Current() == nil {
				sess, err = client.Session.LoginAndSwitchAccount(cmd.Context(), args[0], def)
			} else {
				sess, err = client.Session.SwitchAccount(cmd.Context(), args[0], def)
			}
			if err != nil {
				return fmt.Errorf("switch failed: %w", err)
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", opts.aurora().Bold(sess.AccountID()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&setDefault, "default", false, "make the account the default for future logins")
	return cmd
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	var (
		version int
		query   []string
		trading bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path and print the JSON response",
		Example: `  igcli get accounts
  igcli get markets --query searchTerm=FTSE
  igcli get positions --version 2 --trading`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseQuery(query)
			if err != nil {
				return err
			}

			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			req := &ig.Request{
				Method:  http.MethodGet,
				Path:    strings.TrimPrefix(args[0], "/"),
				Query:   values,
				Version: version,
			}
			if trading {
				req.LimitType = ig.Trading
			}

			var raw json.RawMessage
			if err := client.Do(cmd.Context(), req, &raw); err != nil {
				return err
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), raw)
		},
	}

	cmd.Flags().IntVar(&version, "version", 1, "API version header")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter as key=value, repeatable")
	cmd.Flags().BoolVar(&trading, "trading", false, "count the call against the trading quota")
	return cmd
}

func newLimitsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Print the rate limiter configuration and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if _, err := client.Session.Get(cmd.Context()); err != nil {
				return err
			}
			if err := opts.saveSession(client); err != nil {
				return err
			}

			printLimits(cmd.OutOrStdout(), client.Session.Limits(), client.RetryConfig())
			return nil
		},
	}
}

func parseQuery(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query %q, want key=value", pair)
		}
		values.Add(k, v)
	}
	return values, nil
}

func writeJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return encodeJSON(w, v)
}

func printSession(w io.Writer, au aurora.Aurora, sess *ig.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Account\t%s\n", au.Bold(sess.AccountID()))
	fmt.Fprintf(tw, "Client\t%s\n", sess.ClientID())
	fmt.Fprintf(tw, "Scheme\t%s\n", sess.Scheme())
	fmt.Fprintf(tw, "Expires\t%s (in %s)\n", sess.ExpiresAt().Format(time.RFC3339), time.Duration(sess.SecondsUntilExpiry())*time.Second)
	if endpoint := sess.LightstreamerEndpoint(); endpoint != "" {
		fmt.Fprintf(tw, "Streaming\t%s\n", endpoint)
	}
	_ = tw.Flush()
}

func printLimits(w io.Writer, limits []ig.LimitStats, retry ig.RetryConfig) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tTYPE\tQUOTA\tBURST\tIN WINDOW\tREMAINING\tNEXT IN")
	for _, l := range limits {
		account := l.AccountID
		if account == "" {
			account = "(app)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f/%s\t%d\t%d\t%d\t%s\n",
			account, l.Type, l.EffectiveQuota, l.Period, l.Burst, l.InWindow, l.Remaining, l.NextIn.Round(time.Millisecond))
	}
	_ = tw.Flush()

	if retry.Unbounded() {
		fmt.Fprintf(w, "\nQuota retries: unbounded, every %s\n", retry.RetryDelay())
	} else {
		fmt.Fprintf(w, "\nQuota retries: up to %d, every %s\n", retry.MaxRetries, retry.RetryDelay())
	}
}
