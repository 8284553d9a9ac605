package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/dryrun"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
)

// DefaultConcurrency is the default number of concurrent workers
const DefaultConcurrency = 5

// batchLine is one parsed line of a batch file.
type batchLine struct {
	Line     int
	Endpoint string
	Args     []any
}

// BatchResult is the outcome of one batch line, printed as one JSON line.
type BatchResult struct {
	Line     int             `json:"line"`
	Endpoint string          `json:"endpoint"`
	Success  bool            `json:"success"`
	Status   int             `json:"status"`
	Response any             `json:"response,omitempty"`
	Preview  *dryrun.Preview `json:"preview,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func newBatchCmd() *cobra.Command {
	var (
		concurrency int64
		progress    bool
	)

	cmd := &cobra.Command{
		Use:   "batch [file|-]",
		Short: "Run many calls concurrently, one per input line",
		Long: `Run one call per input line and print one JSON result per line.

Each line is "<endpoint> [json]". A JSON array is the argument list of the
call, any other JSON value is its single argument. Blank lines and lines
starting with # are skipped. Results keep the input order.`,
		Example: `  apitree batch calls.txt
  printf 'users.get 1\nusers.get [{"id":2}]\n' | apitree batch -`,
		Args: cobra.MaximumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			data, err := readFileOrStdin(cmd, source)
			if err != nil {
				return err
			}
			lines, err := parseBatch(data)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("batch input is empty")
			}

			client, closeFn, err := newClientFactory(ctx).client(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			preview := dryrun.IsEnabled(ctx)
			errOut := io.Discard
			if progress {
				errOut = iocontext.GetIO(ctx).ErrOut
			}
			results := runBatch(ctx, lines, concurrency, errOut, func(ctx context.Context, l batchLine) BatchResult {
				return executeLine(ctx, client, l, preview)
			})

			out := iocontext.GetIO(ctx).Out
			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
				if err := writeBatchResult(cmd, out, r); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d batch calls failed", failed, len(results))
			}
			return nil
		}),
	}

	cmd.Flags().Int64Var(&concurrency, "concurrency", DefaultConcurrency, "Maximum number of calls in flight")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report progress on stderr")
	return cmd
}

func writeBatchResult(cmd *cobra.Command, out io.Writer, r BatchResult) error {
	if query := outfmt.GetQuery(cmd.Context()); query != "" {
		return outfmt.WriteJSON(out, r, query)
	}
	return outfmt.WriteJSONLine(out, r)
}

// parseBatch reads "<endpoint> [json]" lines.
func parseBatch(data []byte) ([]batchLine, error) {
	var lines []batchLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, rest, _ := strings.Cut(text, " ")
		l := batchLine{Line: n, Endpoint: name}
		if rest = strings.TrimSpace(rest); rest != "" {
			args, err := decodeBatchArgs(rest)
			if err != nil {
				return nil, fmt.Errorf("invalid batch line %d: %w", n, err)
			}
			l.Args = args
		}
		lines = append(lines, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}
	return lines, nil
}

func decodeBatchArgs(raw string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}
	return []any{v}, nil
}

func executeLine(ctx context.Context, client *api.Client, l batchLine, preview bool) BatchResult {
	r := BatchResult{Line: l.Line, Endpoint: l.Endpoint}
	ep, err := lookupEndpoint(client, l.Endpoint)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if preview {
		req, err := ep.Prepare(ctx, l.Args...)
		if err == nil {
			r.Preview, err = dryrun.FromRequest(ep.Name(), req)
		}
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Success = true
		return r
	}

	env, err := ep.Call(ctx, l.Args...)
	if env != nil {
		r.Success, r.Status, r.Response = env.Success, env.Status, env.Response
	}
	if err != nil {
		r.Success = false
		r.Error = err.Error()
	}
	return r
}

// runBatch executes lines concurrently with bounded parallelism. Results
// are returned in input order; lines skipped by cancellation carry an error.
func runBatch(
	ctx context.Context,
	lines []batchLine,
	concurrency int64,
	errOut io.Writer,
	operation func(ctx context.Context, l batchLine) BatchResult,
) []BatchResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if errOut == nil {
		errOut = io.Discard
	}

	sem := semaphore.NewWeighted(concurrency)
	results := make([]BatchResult, len(lines))
	total := len(lines)
	var done int64
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i, l := range lines {
		i, l := i, l
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = BatchResult{Line: l.Line, Endpoint: l.Endpoint, Error: err.Error()}
				return nil
			}
			defer sem.Release(1)

			results[i] = operation(ctx, l)

			current := atomic.AddInt64(&done, 1)
			mu.Lock()
			_, _ = fmt.Fprintf(errOut, "\rProcessed %d/%d", current, total)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if errOut != io.Discard {
		_, _ = fmt.Fprintln(errOut)
	}
	return results
}
