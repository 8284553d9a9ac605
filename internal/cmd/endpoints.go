package cmd

import (
	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
	"github.com/salmonumbrella/apitree/internal/resolve"
)

// endpointRow is the listing shape of one generated endpoint.
type endpointRow struct {
	Name   string   `json:"name"`
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Params []string `json:"params,omitempty"`
}

func newEndpointsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "endpoints [query]",
		Aliases: []string{"ls"},
		Short:   "List the endpoints of the manifest",
		Long: `List every endpoint of the manifest with its method and path.
With a query, only fuzzy matches are listed, best match first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			m, _, err := newClientFactory(cmd.Context()).manifest()
			if err != nil {
				return err
			}
			leaves := endpoint.Leaves(m.Endpoints)
			if len(args) == 1 {
				leaves = rankLeaves(args[0], leaves, limit)
			}

			rows := make([]endpointRow, 0, len(leaves))
			for _, l := range leaves {
				rows = append(rows, endpointRow{
					Name:   l.DottedName(),
					Method: l.Method,
					Path:   l.Path,
					Params: l.Placeholders(),
				})
			}
			if isJSON(cmd) {
				return printJSON(cmd, rows)
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			f := outfmt.NewFormatter(cmd.Context(), ioStreams.Out, ioStreams.ErrOut)
			if len(rows) == 0 {
				f.Empty("No endpoints found")
				return nil
			}
			f.StartTable("NAME", "METHOD", "PATH")
			for _, r := range rows {
				f.Row(r.Name, r.Method, r.Path)
			}
			return f.EndTable()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of matches listed for a query")
	return cmd
}

func rankLeaves(query string, leaves []endpoint.Leaf, limit int) []endpoint.Leaf {
	names := make([]string, len(leaves))
	byName := make(map[string]endpoint.Leaf, len(leaves))
	for i, l := range leaves {
		names[i] = l.DottedName()
		byName[names[i]] = l
	}
	matches := resolve.Suggest(query, names, limit)
	out := make([]endpoint.Leaf, 0, len(matches))
	for _, m := range matches {
		out = append(out, byName[m.Name])
	}
	return out
}
