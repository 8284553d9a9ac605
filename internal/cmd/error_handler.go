package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/iocontext"
	"github.com/salmonumbrella/apitree/internal/outfmt"
	"github.com/salmonumbrella/apitree/internal/resolve"
)

// errAlreadyHandled marks an error that RunE already printed, so Execute
// does not print it again.
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

// envelopeError reports a call whose envelope is not successful.
type envelopeError struct {
	endpoint string
	env      *api.Envelope
}

func (e *envelopeError) Error() string {
	if e.env.Status == 0 {
		return fmt.Sprintf("%s: %s", e.endpoint, e.env.Message())
	}
	if msg := e.env.Message(); msg != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.endpoint, e.env.Status, msg)
	}
	return fmt.Sprintf("%s: HTTP %d", e.endpoint, e.env.Status)
}

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder

	var envErr *envelopeError
	var cfgErr *api.ConfigError
	var valErr *api.ValidationError
	var interceptErr *api.InterceptorError
	var ambErr *resolve.AmbiguousError
	var nfErr *resolve.NotFoundError

	switch {
	case errors.As(err, &envErr):
		fmt.Fprintf(&msg, "Error: %s\n\n", envErr.Error())
		msg.WriteString(suggestionsForStatusCode(envErr.env.Status))

	case errors.As(err, &cfgErr):
		fmt.Fprintf(&msg, "Error: %s\n\n", cfgErr.Error())
		msg.WriteString("Suggestions:\n")
		if cfgErr.Field == "base" {
			msg.WriteString("  - Pass --base or set APITREE_BASE_URL\n")
			msg.WriteString("  - Or add a top-level 'base' to the endpoint manifest\n")
		} else {
			msg.WriteString("  - Check the endpoint manifest and flags\n")
		}

	case errors.As(err, &valErr):
		fmt.Fprintf(&msg, "Error: %s\n\n", valErr.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Pass at most one path parameter source and one payload\n")
		msg.WriteString("  - Use --dry-run to preview the request\n")

	case errors.As(err, &interceptErr):
		fmt.Fprintf(&msg, "Error: %s\n\n", interceptErr.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Store a fresh token: apitree session set token=<value>\n")

	case errors.As(err, &ambErr):
		fmt.Fprintf(&msg, "Error: %s\n", ambErr.Error())

	case errors.As(err, &nfErr):
		fmt.Fprintf(&msg, "Error: %s\n\n", nfErr.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: apitree endpoints\n")

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the API server is running\n")
		msg.WriteString("  - Verify the base URL (--base or APITREE_BASE_URL)\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the base URL spelling\n")
		msg.WriteString("  - Verify your DNS settings\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}

func suggestionsForStatusCode(code int) string {
	var s strings.Builder
	s.WriteString("Suggestions:\n")

	switch {
	case code == 0:
		s.WriteString("  - No response was received\n")
		s.WriteString("  - Check the base URL and your network connection\n")
		s.WriteString("  - Raise --timeout for slow endpoints\n")
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		s.WriteString("  - Check your request parameters\n")
		s.WriteString("  - Use --dry-run to see the prepared request\n")
	case code == http.StatusUnauthorized:
		s.WriteString("  - Your token may be invalid or expired\n")
		s.WriteString("  - Inspect it: apitree session token\n")
	case code == http.StatusForbidden:
		s.WriteString("  - You don't have permission for this action\n")
	case code == http.StatusNotFound:
		s.WriteString("  - The resource doesn't exist\n")
		s.WriteString("  - Check the path parameters\n")
	case code == http.StatusTooManyRequests:
		s.WriteString("  - Too many requests, wait and retry\n")
		s.WriteString("  - Lower batch --concurrency\n")
	case code >= 500:
		s.WriteString("  - Server error, wait and retry\n")
	default:
		s.WriteString("  - Use --debug for more details\n")
	}
	return s.String()
}

// RunE wraps a command function with enhanced error handling
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil || errors.Is(err, errAlreadyHandled) {
			return err
		}
		code := ExitCode(err)
		var envErr *envelopeError
		switch {
		case errors.As(err, &envErr) && outfmt.IsJSON(cmd.Context()):
			// the envelope is already on stdout
		case outfmt.IsJSON(cmd.Context()):
			_ = outfmt.WriteJSON(iocontext.GetIO(cmd.Context()).Out, map[string]any{
				"error":     err.Error(),
				"exit_code": code,
			}, "")
		default:
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
		}
		return &handledError{err: err, exitCode: code}
	}
}
