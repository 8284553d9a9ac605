package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/iocontext"
)

type validateReport struct {
	Manifest  string           `json:"manifest"`
	Version   string           `json:"version,omitempty"`
	Endpoints int              `json:"endpoints"`
	Issues    []endpoint.Issue `json:"issues"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest for structural problems",
		Long: `Check the manifest for structural problems. Invalid entries are skipped
by every other command; validate lists them and exits with status 2 when
there are any.`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			f := newClientFactory(cmd.Context())
			m, issues, err := f.manifest()
			if err != nil {
				return err
			}
			report := validateReport{
				Manifest:  f.settings.Endpoints,
				Version:   m.Version,
				Endpoints: len(endpoint.Leaves(m.Endpoints)),
				Issues:    issues,
			}
			if report.Issues == nil {
				report.Issues = []endpoint.Issue{}
			}

			if isJSON(cmd) {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := iocontext.GetIO(cmd.Context()).Out
				for _, issue := range issues {
					_, _ = fmt.Fprintf(out, "invalid entry %s\n", issue.Error())
				}
				_, _ = fmt.Fprintf(out, "%d endpoints, %d issues\n", report.Endpoints, len(issues))
			}
			if len(issues) > 0 {
				return &handledError{err: issues.Err(), exitCode: exitUsage}
			}
			return nil
		}),
	}
}
