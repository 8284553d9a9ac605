// Package iocontext carries the command I/O streams on a context.
package iocontext

import (
	"context"
	"io"
	"os"
)

// IO holds the input/output streams for commands.
type IO struct {
	Out    io.Writer
	ErrOut io.Writer
	In     io.Reader
}

// DefaultIO returns the process streams.
func DefaultIO() *IO {
	return &IO{Out: os.Stdout, ErrOut: os.Stderr, In: os.Stdin}
}

type ioKey struct{}

// WithIO adds IO streams to a context.
func WithIO(ctx context.Context, streams *IO) context.Context {
	return context.WithValue(ctx, ioKey{}, streams)
}

// GetIO retrieves IO streams from context, defaulting to the process streams.
func GetIO(ctx context.Context) *IO {
	if streams, ok := ctx.Value(ioKey{}).(*IO); ok && streams != nil {
		return streams
	}
	return DefaultIO()
}

// ReadInput reads all of stdin. A nil In reads as empty.
func ReadInput(ctx context.Context) ([]byte, error) {
	in := GetIO(ctx).In
	if in == nil {
		return nil, nil
	}
	return io.ReadAll(in)
}
