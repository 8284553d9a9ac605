package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
)

// printJSON writes v to stdout, filtered by --query.
func printJSON(cmd *cobra.Command, v any) error {
	ctx := cmd.Context()
	return outfmt.WriteJSON(iocontext.GetIO(ctx).Out, v, outfmt.GetQuery(ctx))
}

func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// splitPair splits "key=value" (or "key:value" when sep is ':').
func splitPair(raw, sep, flagName string) (string, string, error) {
	key, value, ok := strings.Cut(raw, sep)
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid %s value %q: must be key%svalue", flagName, raw, sep)
	}
	return key, value, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, err := splitPair(h, ":", "--header")
		if err != nil {
			return nil, err
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseStringFields handles -f/-p: values are sent as strings.
func parseStringFields(raw []string, flagName string, into map[string]any) error {
	for _, f := range raw {
		k, v, err := splitPair(f, "=", flagName)
		if err != nil {
			return err
		}
		into[k] = v
	}
	return nil
}

// parseTypedFields handles -F: values are JSON, so numbers, booleans, null,
// arrays and objects keep their type. Anything that is not JSON is a string.
func parseTypedFields(raw []string, flagName string, into map[string]any) error {
	for _, f := range raw {
		k, v, err := splitPair(f, "=", flagName)
		if err != nil {
			return err
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			into[k] = v
			continue
		}
		into[k] = decoded
	}
	return nil
}

// parseFileFields handles --file key=path (a leading @ is accepted).
func parseFileFields(raw []string, into map[string]any) error {
	for _, f := range raw {
		k, v, err := splitPair(f, "=", "--file")
		if err != nil {
			return err
		}
		file, err := api.OpenFile(strings.TrimPrefix(v, "@"))
		if err != nil {
			return err
		}
		into[k] = file
	}
	return nil
}

// readBodySource resolves -d/-i. "-" reads stdin, "@path" or a plain path
// for -i reads a file, and -d is taken literally unless it starts with "@".
func readBodySource(cmd *cobra.Command, data, input string) ([]byte, error) {
	switch {
	case data != "" && input != "":
		return nil, fmt.Errorf("--data and --input cannot be used together")
	case data != "":
		if strings.HasPrefix(data, "@") {
			return readFileOrStdin(cmd, strings.TrimPrefix(data, "@"))
		}
		return []byte(data), nil
	case input != "":
		return readFileOrStdin(cmd, strings.TrimPrefix(input, "@"))
	}
	return nil, nil
}

func readFileOrStdin(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := iocontext.ReadInput(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
