package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/pflag"

	"github.com/salmonumbrella/apitree/internal/api"
	"github.com/salmonumbrella/apitree/internal/resolve"
)

const (
	exitOK          = 0
	exitGeneric     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitForbidden   = 5
	exitRateLimited = 6
	exitServer      = 7
	exitNetwork     = 8
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	var handled *handledError
	if errors.As(err, &handled) {
		if handled.exitCode != 0 {
			return handled.exitCode
		}
		err = handled.err
	}

	var envErr *envelopeError
	if errors.As(err, &envErr) {
		return statusExitCode(envErr.env.Status)
	}
	var nf *resolve.NotFoundError
	var amb *resolve.AmbiguousError
	if errors.As(err, &nf) || errors.As(err, &amb) || api.IsConfigError(err) || api.IsValidationError(err) || isUsageError(err) {
		return exitUsage
	}
	if api.IsInterceptorError(err) {
		return exitAuth
	}
	if isNetworkError(err) {
		return exitNetwork
	}
	return exitGeneric
}

// statusExitCode maps a non-2xx envelope status to an exit code.
// Status 0 means no response was received.
func statusExitCode(status int) int {
	switch {
	case status >= 200 && status <= 299:
		return exitOK
	case status == 0:
		return exitNetwork
	case status == http.StatusUnauthorized:
		return exitAuth
	case status == http.StatusForbidden:
		return exitForbidden
	case status == http.StatusNotFound:
		return exitNotFound
	case status == http.StatusTooManyRequests:
		return exitRateLimited
	case status >= 500:
		return exitServer
	case status >= 400:
		return exitUsage
	default:
		return exitGeneric
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout")
}

func isUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	indicators := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"accepts ",
		"requires at least",
		"requires exactly",
		"invalid argument",
		"invalid value",
		"invalid apitree_",
		"must be",
		"is required",
		"requires --",
	}
	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
