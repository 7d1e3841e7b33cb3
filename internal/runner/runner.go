// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package runner executes external programs, capturing their output
// and reporting failures with a bounded tail of what they printed.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kballard/go-shellquote"

	"github.com/openafs-contrib/afscell/paths"
)

var logger = loggo.GetLogger("afscell.runner")

// DefaultTailSize is the number of output lines kept for failure
// reports when Options.TailSize is zero.
const DefaultTailSize = 20

// Logger is the logging surface the runner needs. loggo.Logger
// satisfies it.
type Logger interface {
	Errorf(string, ...any)
	Warningf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
}

// Options modify a single invocation.
type Options struct {
	// Discard drops the output instead of returning it.
	Discard bool

	// Quiet stops output lines from being logged.
	Quiet bool

	// Prefix is prepended to every logged output line.
	Prefix string

	// Sed transforms each returned line; lines transformed to the
	// empty string are dropped.
	Sed func(string) string

	// DryRun writes the command line to the progress writer and
	// returns without executing anything.
	DryRun bool

	// TailSize bounds the output kept for a failure report.
	TailSize int
}

func (o Options) tailSize() int {
	if o.TailSize <= 0 {
		return DefaultTailSize
	}
	return o.TailSize
}

// Runner runs commands on the local machine.
type Runner struct {
	registry *paths.Registry
	logger   Logger
	progress io.Writer
}

// Config holds the dependencies of a Runner.
type Config struct {
	// Registry resolves command names; nil uses $PATH only.
	Registry *paths.Registry
	// Logger defaults to the package logger.
	Logger Logger
	// Progress receives dry-run command lines; defaults to stdout.
	Progress io.Writer
}

// New returns a Runner.
func New(config Config) *Runner {
	r := &Runner{
		registry: config.Registry,
		logger:   config.Logger,
		progress: config.Progress,
	}
	if r.logger == nil {
		r.logger = logger
	}
	if r.progress == nil {
		r.progress = os.Stdout
	}
	return r
}

// Logger returns the logger used for command output.
func (r *Runner) Logger() Logger {
	return r.logger
}

// Registry returns the command path registry, which may be nil.
func (r *Runner) Registry() *paths.Registry {
	return r.registry
}

// Resolve returns argv with its program name replaced by an absolute
// path. ErrCommandMissing is returned when the name cannot be found.
func (r *Runner) Resolve(argv []string) ([]string, error) {
	if len(argv) == 0 {
		return nil, errors.NotValidf("empty command")
	}
	path, err := r.registry.Resolve(argv[0])
	if err != nil {
		return nil, errors.Annotatef(ErrCommandMissing, "%s", argv[0])
	}
	resolved := append([]string{path}, argv[1:]...)
	return resolved, nil
}

// Run executes argv and returns its output lines, with stderr merged
// into stdout. A non-zero exit is reported as a *CommandFailed.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) ([]string, error) {
	argv, err := r.Resolve(argv)
	if err != nil {
		return nil, err
	}
	cmdline := shellquote.Join(argv...)
	if opts.DryRun {
		fmt.Fprintln(r.progress, cmdline)
		return nil, nil
	}
	r.logger.Debugf("running: %s", cmdline)

	out := NewOutput(opts, r.logger)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	err = cmd.Run()
	out.Flush()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandFailed{
				Argv: argv,
				Code: exitErr.ExitCode(),
				Tail: out.Tail(),
			}
		}
		return nil, errors.Annotatef(err, "running %s", cmdline)
	}
	return out.Lines(), nil
}
