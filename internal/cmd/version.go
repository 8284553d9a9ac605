package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

// version is set at build time via ldflags
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{"version": version}
			if v := canonicalVersion(version); v != "" {
				info["major"] = semver.Major(v)
			}
			if isJSON(cmd) {
				return printJSON(cmd, info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "apitree version %s\n", version)
			return err
		}),
	}
}

// canonicalVersion returns the semver form of v, or "" for dev builds.
func canonicalVersion(v string) string {
	if v == "" || v == "dev" {
		return ""
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return semver.Canonical(v)
}
