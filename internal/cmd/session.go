package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
	"github.com/salmonumbrella/apitree/internal/session"
)

// now is replaced in tests.
var now = time.Now

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the session store used for bearer tokens",
		Long: `Manage the session store. Calls send "Authorization: Bearer <token>"
when the store holds a "token" or "access_token" entry.

The memory store only lives for one command; use --store keyring, redis or
sqlite to keep entries between runs.`,
	}
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionSetCmd())
	cmd.AddCommand(newSessionDisposeCmd())
	cmd.AddCommand(newSessionClearCmd())
	cmd.AddCommand(newSessionTokenCmd())
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(session.Store) error) error {
	ctx := cmd.Context()
	store, closeFn, err := newClientFactory(ctx).store(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return fn(store)
}

func newSessionShowCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every session entry",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store session.Store) error {
				snap, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if !reveal {
					maskTokens(snap)
				}
				if isJSON(cmd) {
					return printJSON(cmd, snap)
				}

				ioStreams := iocontext.GetIO(cmd.Context())
				f := outfmt.NewFormatter(cmd.Context(), ioStreams.Out, ioStreams.ErrOut)
				if len(snap) == 0 {
					f.Empty("Session is empty")
					return nil
				}
				keys := make([]string, 0, len(snap))
				for k := range snap {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				f.StartTable("KEY", "VALUE")
				for _, k := range keys {
					f.Row(k, displayValue(snap[k]))
				}
				return f.EndTable()
			})
		}),
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print tokens in full")
	return cmd
}

func newSessionSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Store entries; JSON values keep their type, null deletes",
		Example: `  apitree session set token=eyJhbGciOi...
  apitree session set user='{"id":2}' retries=3 stale=null`,
		Args: cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			entries := map[string]any{}
			if err := parseTypedFields(args, "entry", entries); err != nil {
				return err
			}
			return withStore(cmd, func(store session.Store) error {
				if err := store.Put(cmd.Context(), entries); err != nil {
					return err
				}
				return reportSession(cmd, "stored", sortedEntryKeys(entries))
			})
		}),
	}
}

func newSessionDisposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispose key...",
		Short: "Remove entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store session.Store) error {
				if err := store.Dispose(cmd.Context(), args...); err != nil {
					return err
				}
				return reportSession(cmd, "disposed", args)
			})
		}),
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store session.Store) error {
				if err := store.ClearAll(cmd.Context()); err != nil {
					return err
				}
				return reportSession(cmd, "cleared", nil)
			})
		}),
	}
}

func newSessionTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Describe the stored bearer token (JWT claims are not verified)",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store session.Store) error {
				snap, err := store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				info, err := session.InspectToken(snap, now())
				if err != nil {
					if errors.Is(err, session.ErrNoToken) {
						return fmt.Errorf("no token in session: run apitree session set token=<value>")
					}
					return err
				}
				if isJSON(cmd) {
					return printJSON(cmd, info)
				}

				out := iocontext.GetIO(cmd.Context()).Out
				_, _ = fmt.Fprintf(out, "Key:     %s\n", info.Key)
				if !info.JWT {
					_, _ = fmt.Fprintln(out, "Format:  opaque")
					return nil
				}
				_, _ = fmt.Fprintln(out, "Format:  JWT (unverified)")
				if sub, ok := info.Claims["sub"]; ok {
					_, _ = fmt.Fprintf(out, "Subject: %v\n", sub)
				}
				if info.ExpiresAt != nil {
					state := "valid"
					if info.Expired {
						state = "expired"
					}
					_, _ = fmt.Fprintf(out, "Expires: %s (%s)\n", info.ExpiresAt.UTC().Format(time.RFC3339), state)
				}
				return nil
			})
		}),
	}
}

func reportSession(cmd *cobra.Command, action string, keys []string) error {
	if isJSON(cmd) {
		return printJSON(cmd, map[string]any{"action": action, "keys": keys})
	}
	out := iocontext.GetIO(cmd.Context()).Out
	if len(keys) == 0 {
		_, err := fmt.Fprintf(out, "Session %s\n", action)
		return err
	}
	_, err := fmt.Fprintf(out, "Session %s: %v\n", action, keys)
	return err
}

func maskTokens(snap map[string]any) {
	for _, k := range session.TokenKeys {
		if s, ok := snap[k].(string); ok {
			snap[k] = maskSecret(s)
		}
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func displayValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedEntryKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
