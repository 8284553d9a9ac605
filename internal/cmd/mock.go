package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/endpoint"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/mockserver"
)

func newMockCmd() *cobra.Command {
	var (
		addr   string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve every endpoint of the manifest as an echo handler",
		Long: `Serve every endpoint of the manifest as an echo handler that answers
with the received method, path parameters, query, body and files.

Send "X-Mock-Status: <code>" to choose the response status. Request counts
are exported in Prometheus format on /_mock/metrics. Routes are mounted
under the path of the base URL unless --prefix is given.`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			f := newClientFactory(cmd.Context())
			m, _, err := f.manifest()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = basePath(firstNonEmpty(f.settings.BaseURL, m.Base))
			}
			handler := mockserver.New(m.Endpoints, mockserver.Options{
				Prefix:   prefix,
				Registry: prometheus.NewRegistry(),
			})

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n := len(endpoint.Leaves(m.Endpoints))
			return serveMock(ctx, listener, handler, iocontext.GetIO(ctx).ErrOut, n)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Path prefix of every route")
	return cmd
}

// serveMock serves handler on listener until ctx is done.
func serveMock(ctx context.Context, listener net.Listener, handler http.Handler, logOut io.Writer, endpoints int) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	_, _ = fmt.Fprintf(logOut, "Serving %d endpoints on http://%s\n", endpoints, listener.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
		}
		return nil
	}
}

// basePath returns the path component of a base URL, or "" when it has none.
func basePath(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Path == "/" {
		return ""
	}
	return u.Path
}
