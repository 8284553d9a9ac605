package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/salmonumbrella/apitree/internal/config"
	"github.com/salmonumbrella/apitree/internal/debug"
	"github.com/salmonumbrella/apitree/internal/dryrun"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Endpoints      string
	Base           string
	Timeout        time.Duration
	Store          string
	Output         string
	Query          string
	Debug          bool
	LogFormat      string
	EnvFile        string
	DryRun         bool
	IdempotencyKey string
	Headers        []string
	MetricsFile    string
	DropTokenOn401 bool
}

// flags holds the global command flags. It is package-level state and is
// reset at the start of every Execute call.
var flags rootFlags

type settingsKey struct{}

func withSettings(ctx context.Context, s config.Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

func settingsFrom(ctx context.Context) config.Settings {
	if s, ok := ctx.Value(settingsKey{}).(config.Settings); ok {
		return s
	}
	return config.Settings{}
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	flags = rootFlags{}

	root := &cobra.Command{
		Use:                "apitree",
		Short:              "Call HTTP APIs described by a declarative endpoint tree",
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableSuggestions: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := config.LoadEnvFile(flags.EnvFile); err != nil {
				return err
			}
			s, err := config.Load()
			if err != nil {
				return err
			}
			s = applyFlagOverrides(cmd, s)
			if err := s.Validate(); err != nil {
				return err
			}

			if flags.Query != "" && s.Output != "json" {
				if cmd.Flags().Changed("output") {
					return fmt.Errorf("--query requires --output json")
				}
				s.Output = "json"
			}
			mode, err := outfmt.Parse(s.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)
			if flags.Query != "" {
				ctx = outfmt.WithQuery(ctx, flags.Query)
			}

			ioStreams := iocontext.DefaultIO()
			ctx = iocontext.WithIO(ctx, ioStreams)
			cmd.SetOut(ioStreams.Out)
			cmd.SetErr(ioStreams.ErrOut)

			debug.SetupLogger(flags.Debug, s.LogFormat)
			ctx = debug.WithDebug(ctx, flags.Debug)
			ctx = dryrun.WithDryRun(ctx, flags.DryRun)
			ctx = withSettings(ctx, s)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Endpoints, "endpoints", "e", "", "Endpoint manifest file, YAML or JSON (env APITREE_ENDPOINTS)")
	pf.StringVar(&flags.Base, "base", "", "Base URL every endpoint path is joined to (env APITREE_BASE_URL)")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "Per-request timeout, e.g. 10s (default 30s)")
	pf.StringVar(&flags.Store, "store", "", "Session store: memory|keyring|redis|sqlite (env APITREE_STORE)")
	pf.StringVarP(&flags.Output, "output", "o", "", "Output format: text|json (env APITREE_OUTPUT)")
	pf.StringVarP(&flags.Query, "query", "q", "", "JQ expression to filter JSON output")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.LogFormat, "log-format", "", "Log format: text|json (env APITREE_LOG_FORMAT)")
	pf.StringVar(&flags.EnvFile, "env-file", "", "Load variables from this .env file (default ./.env when present)")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Print prepared requests instead of sending them")
	pf.StringVar(&flags.IdempotencyKey, "idempotency-key", "", "Idempotency key for write requests (use 'auto' for per-request keys)")
	pf.StringArrayVarP(&flags.Headers, "header", "H", nil, "Extra request header 'Name: value' (repeatable)")
	pf.StringVar(&flags.MetricsFile, "metrics-file", "", "Write request metrics in Prometheus text format to this file on exit")
	pf.BoolVar(&flags.DropTokenOn401, "drop-token-on-401", false, "Remove the stored bearer token when the API answers 401")

	root.AddCommand(newEndpointsCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newMockCmd())
	root.AddCommand(newVersionCmd())

	targetCmd, err := root.ExecuteC()
	if err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), enhanceUnknownError(err, root, targetCmd))
		}
		return err
	}
	return nil
}

// applyFlagOverrides lets explicitly set flags win over the environment.
func applyFlagOverrides(cmd *cobra.Command, s config.Settings) config.Settings {
	changed := cmd.Flags().Changed
	if changed("endpoints") {
		s.Endpoints = flags.Endpoints
	}
	if changed("base") {
		s.BaseURL = flags.Base
	}
	if changed("timeout") {
		s.Timeout = flags.Timeout
	}
	if changed("store") {
		s.Store = strings.ToLower(strings.TrimSpace(flags.Store))
	}
	if changed("output") {
		s.Output = strings.ToLower(strings.TrimSpace(flags.Output))
	}
	if changed("log-format") {
		s.LogFormat = strings.ToLower(strings.TrimSpace(flags.LogFormat))
	}
	return s
}

// enhanceUnknownError adds "did you mean?" suggestions to unknown command/flag errors.
// targetCmd is the command Cobra resolved before the error (may be root itself).
func enhanceUnknownError(err error, root *cobra.Command, targetCmd *cobra.Command) string {
	msg := err.Error()

	if strings.Contains(msg, "unknown command") {
		if unknown := extractQuoted(msg); unknown != "" {
			var names []string
			for _, c := range root.Commands() {
				if c.IsAvailableCommand() || c.Name() == "help" {
					names = append(names, c.Name())
					names = append(names, c.Aliases...)
				}
			}
			if suggestion := suggestCommand(unknown, names); suggestion != "" {
				return fmt.Sprintf("%s\n\nDid you mean %q?", msg, suggestion)
			}
		}
		return msg
	}

	if strings.Contains(msg, "unknown flag") || strings.Contains(msg, "unknown shorthand flag") {
		unknown := extractFlag(msg)
		if unknown == "" {
			return msg
		}
		seen := make(map[string]bool)
		var flagNames []string
		add := func(name string) {
			if !seen[name] {
				seen[name] = true
				flagNames = append(flagNames, name)
			}
		}
		addFlags := func(fs *pflag.FlagSet) {
			fs.VisitAll(func(f *pflag.Flag) {
				add("--" + f.Name)
				if f.Shorthand != "" {
					add("-" + f.Shorthand)
				}
			})
		}
		helpCmd := "apitree --help"
		if targetCmd != nil {
			addFlags(targetCmd.Flags())
			addFlags(targetCmd.InheritedFlags())
			helpCmd = targetCmd.CommandPath() + " --help"
		} else {
			addFlags(root.PersistentFlags())
		}
		if suggestion := suggestFlag(unknown, flagNames); suggestion != "" {
			return fmt.Sprintf("%s\n\nDid you mean %q?\nRun %q to see supported flags.", msg, suggestion, helpCmd)
		}
		return fmt.Sprintf("%s\n\nRun %q to see supported flags.", msg, helpCmd)
	}

	return msg
}

// extractQuoted extracts the first double-quoted substring from s.
func extractQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

// extractFlag pulls "--name" or "-n" out of a pflag error message.
func extractFlag(s string) string {
	idx := strings.Index(s, "--")
	if idx < 0 {
		// "unknown shorthand flag: 'a' in -a"
		idx = strings.LastIndex(s, " -")
		if idx < 0 {
			return ""
		}
		idx++
	}
	rest := s[idx:]
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimRight(rest, ".,;:!?\"'")
	if len(rest) < 2 || !strings.HasPrefix(rest, "-") {
		return ""
	}
	return rest
}
