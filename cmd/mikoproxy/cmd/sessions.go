package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mikoworkspace/mikoproxy/internal/app"
	"github.com/mikoworkspace/mikoproxy/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
	Long:  `Commands that work on the session store directly. Stop the proxy first when using the file or bolt backend.`,
}

// openSessions loads the configured session store.
func openSessions(ctx context.Context) (*session.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	backend, err := app.OpenBackend(ctx, cfg.Sessions)
	if err != nil {
		return nil, nil, err
	}
	store := session.New(backend, session.WithTTL(cfg.Sessions.TTL), session.WithLogger(logger))
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, nil, err
	}
	return store, func() { backend.Close() }, nil
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		ids := store.IDs()
		if len(ids) == 0 {
			fmt.Fprintf(out, "No sessions in %s\n", store.Location())
			return nil
		}
		header := color.New(color.FgCyan, color.Bold)
		expired := color.New(color.FgRed)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, header.Sprint("SESSION")+"\t"+header.Sprint("LOGGED IN")+"\t"+header.Sprint("EXPIRES"))
		for _, id := range ids {
			sess, ok := store.Get(id)
			if !ok {
				continue
			}
			expiry := sess.LoginTime.Add(store.TTL())
			expires := humanize.Time(expiry)
			if sess.LoginTime.IsZero() || expiry.Before(time.Now()) {
				expires = expired.Sprint("expired")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, humanize.Time(sess.LoginTime.Time), expires)
		}
		return w.Flush()
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Remove one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		if !store.Clear(args[0]) {
			return fmt.Errorf("no session %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", args[0])
		return nil
	},
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove sessions older than the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		n := store.CleanupExpired()
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired %s, %d left\n", n, plural(n, "session"), store.Len())
		return nil
	},
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsClearCmd, sessionsSweepCmd)
}
