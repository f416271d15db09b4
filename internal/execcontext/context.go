// Package execcontext carries the context and output streams of a single
// command invocation.
package execcontext

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// RunContext bundles the context of a command with the writers it reports to.
type RunContext struct {
	Context context.Context
	StdOut  io.Writer
	StdErr  io.Writer
}

// New returns a RunContext, defaulting to the process streams and a
// background context.
func New(ctx context.Context, stdout, stderr io.Writer) RunContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return RunContext{Context: ctx, StdOut: stdout, StdErr: stderr}
}

func (rc RunContext) Write(p []byte) (n int, err error) {
	return rc.StdOut.Write(p)
}

func (rc RunContext) Printf(format string, v ...any) {
	fmt.Fprintf(rc.StdOut, format, v...)
}

// Logger returns the logger attached to the context, or the global one.
func (rc RunContext) Logger() *zerolog.Logger {
	return zerolog.Ctx(rc.Context)
}

// WithContext returns a copy using ctx.
func (rc RunContext) WithContext(ctx context.Context) RunContext {
	rc.Context = ctx
	return rc
}
