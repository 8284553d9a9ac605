package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/dryrun"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
	"github.com/salmonumbrella/apitree/internal/resolve"
)

type callOptions struct {
	params    []string
	fields    []string
	rawFields []string
	files     []string
	data      string
	input     string
	bag       bool
}

func newCallCmd() *cobra.Command {
	var opts callOptions

	cmd := &cobra.Command{
		Use:   "call <endpoint> [path-param]",
		Short: "Call one endpoint of the manifest",
		Long: `Call one endpoint of the manifest by its dotted name.

A positional path parameter or -p pairs fill the path placeholders.
-f/-F/--file build the payload, -d/-i send a raw body instead.
GET and DELETE payloads become query parameters, other methods send
JSON, or multipart/form-data when a --file is present.`,
		Example: `  apitree call users.get 2
  apitree call users.update -p id=2 -F admin=true -f name=Ada
  apitree call users.avatar -p id=2 --file image=@me.png
  apitree call users.create -d '{"name":"Ada"}'
  apitree call users.update --bag -p id=2 -f name=Ada`,
		Args: cobra.RangeArgs(1, 2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, closeFn, err := newClientFactory(ctx).client(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ep, err := lookupEndpoint(client, args[0])
			if err != nil {
				return err
			}
			var positional any
			if len(args) == 2 {
				positional = args[1]
			}
			callArgs, err := opts.build(cmd, positional)
			if err != nil {
				return err
			}

			if dryrun.IsEnabled(ctx) {
				return previewCall(cmd, ep, callArgs)
			}

			env, callErr := ep.Call(ctx, callArgs...)
			if env == nil {
				return callErr
			}
			if err := printEnvelope(cmd, env); err != nil {
				return err
			}
			if callErr != nil {
				return callErr
			}
			if !env.Success {
				return &envelopeError{endpoint: ep.Name(), env: env}
			}
			return nil
		}),
	}

	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Path parameter key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.fields, "field", "f", nil, "Payload field key=value sent as a string (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.rawFields, "raw-field", "F", nil, "Payload field key=json keeping its JSON type (repeatable)")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "Multipart file field key=@path (repeatable)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Raw request body, or @path / @- to read it")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Read the raw request body from a file ('-' for stdin)")
	cmd.Flags().BoolVar(&opts.bag, "bag", false, "Send params and fields as one argument bag with $params")
	return cmd
}

// build turns the flags into the arguments of Endpoint.Call. Without --bag
// it always passes the two-argument form, so a path parameter map is never
// mistaken for a payload.
func (o callOptions) build(cmd *cobra.Command, positional any) ([]any, error) {
	params := map[string]any{}
	if err := parseStringFields(o.params, "--param", params); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := parseStringFields(o.fields, "--field", fields); err != nil {
		return nil, err
	}
	if err := parseTypedFields(o.rawFields, "--raw-field", fields); err != nil {
		return nil, err
	}
	if err := parseFileFields(o.files, fields); err != nil {
		return nil, err
	}
	body, err := readBodySource(cmd, o.data, o.input)
	if err != nil {
		return nil, err
	}
	if body != nil && len(fields) > 0 {
		return nil, fmt.Errorf("--data/--input cannot be combined with --field, --raw-field or --file")
	}
	if positional != nil && len(params) > 0 {
		return nil, fmt.Errorf("a positional path parameter cannot be combined with --param")
	}

	if o.bag {
		if positional != nil || body != nil {
			return nil, fmt.Errorf("--bag requires --param for path parameters and fields for the payload")
		}
		if len(params) > 0 {
			fields[api.ParamsKey] = params
		}
		return []any{fields}, nil
	}

	var pathSource any
	switch {
	case positional != nil:
		pathSource = positional
	case len(params) > 0:
		pathSource = params
	}
	var payload any
	switch {
	case body != nil:
		payload = body
	case len(fields) > 0:
		payload = fields
	}
	return []any{pathSource, payload}, nil
}

func lookupEndpoint(client *api.Client, name string) (*api.Endpoint, error) {
	tree := client.Endpoints()
	if ep, ok := tree.Lookup(name); ok {
		return ep, nil
	}
	names := make([]string, 0)
	tree.Walk(func(ep *api.Endpoint) { names = append(names, ep.Name()) })

	match, err := resolve.Endpoint(name, names)
	if err != nil {
		return nil, err
	}
	// Only exact names are called; a fuzzy hit is a suggestion.
	if strings.EqualFold(match, name) {
		if ep, ok := tree.Lookup(match); ok {
			return ep, nil
		}
	}
	return nil, &resolve.NotFoundError{Query: name, Suggestion: match}
}

func previewCall(cmd *cobra.Command, ep *api.Endpoint, args []any) error {
	req, err := ep.Prepare(cmd.Context(), args...)
	if err != nil {
		return err
	}
	preview, err := dryrun.FromRequest(ep.Name(), req)
	if err != nil {
		return err
	}
	if isJSON(cmd) {
		return printJSON(cmd, preview)
	}
	preview.Write(iocontext.GetIO(cmd.Context()).Out)
	return nil
}

// printEnvelope prints the whole envelope in JSON mode and only the
// response body in text mode.
func printEnvelope(cmd *cobra.Command, env *api.Envelope) error {
	if isJSON(cmd) {
		return printJSON(cmd, env)
	}
	out := iocontext.GetIO(cmd.Context()).Out
	switch v := env.Response.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(out, v)
		return err
	default:
		return outfmt.WriteJSON(out, v, "")
	}
}
