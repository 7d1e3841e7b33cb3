// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package remote runs commands so that they observe a given host's
// state: directly when the host is this machine, otherwise through a
// non-interactive remote shell.
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kballard/go-shellquote"

	"github.com/openafs-contrib/afscell/internal/runner"
)

var logger = loggo.GetLogger("afscell.remote")

// Options modify a single dispatched command.
type Options struct {
	runner.Options

	// Sudo wraps the command in a non-interactive privilege
	// elevation. It fails rather than prompt for a password.
	Sudo bool
}

// Executor is the contract shared by everything that runs commands
// on behalf of a host.
type Executor interface {
	// Execute runs argv so that it observes host's state.
	Execute(ctx context.Context, host string, argv []string, opts Options) ([]string, error)

	// CopyTo installs the local file src at dst on host.
	CopyTo(ctx context.Context, host, src, dst string, elevate bool) error
}

// Dispatcher implements Executor on top of the local runner and a
// remote shell transport. It never retries; that is the caller's
// policy.
type Dispatcher struct {
	runner   *runner.Runner
	exec     CommandExec
	locality *Locality
	identity string
	progress io.Writer
}

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Runner *runner.Runner
	// Exec defaults to the OpenSSH transport.
	Exec CommandExec
	// Locality defaults to the running machine.
	Locality *Locality
	// Identity is the optional ssh identity file.
	Identity string
	// Progress receives dry-run command lines for remote hosts.
	Progress io.Writer
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(config Config) *Dispatcher {
	d := &Dispatcher{
		runner:   config.Runner,
		exec:     config.Exec,
		locality: config.Locality,
		identity: config.Identity,
		progress: config.Progress,
	}
	if d.exec == nil {
		d.exec = NewSSHExec()
	}
	if d.locality == nil {
		d.locality = defaultLocality
	}
	if d.progress == nil {
		d.progress = os.Stdout
	}
	return d
}

var _ Executor = (*Dispatcher)(nil)

// IsLocal reports whether host is this machine.
func (d *Dispatcher) IsLocal(host string) bool {
	return d.locality.IsLocal(host)
}

func sudo(argv []string) []string {
	return append([]string{"sudo", "-n"}, argv...)
}

// Execute is part of the Executor interface.
func (d *Dispatcher) Execute(ctx context.Context, host string, argv []string, opts Options) ([]string, error) {
	if d.IsLocal(host) {
		return d.executeLocal(ctx, argv, opts)
	}
	return d.executeRemote(ctx, host, argv, opts)
}

func (d *Dispatcher) executeLocal(ctx context.Context, argv []string, opts Options) ([]string, error) {
	resolved, err := d.runner.Resolve(argv)
	if err != nil {
		return nil, err
	}
	if opts.Sudo && os.Geteuid() != 0 {
		resolved = sudo(resolved)
	}
	return d.runner.Run(ctx, resolved, opts.Options)
}

func (d *Dispatcher) executeRemote(ctx context.Context, host string, argv []string, opts Options) ([]string, error) {
	if len(argv) == 0 {
		return nil, errors.NotValidf("empty command")
	}
	// Only explicitly registered paths apply on the far side; the
	// remote shell's own PATH resolves everything else.
	argv = append([]string(nil), argv...)
	if path, ok := d.runner.Registry().Lookup(argv[0]); ok {
		argv[0] = path
	}
	if opts.Sudo {
		argv = sudo(argv)
	}
	cmdline := shellquote.Join(argv...)
	if opts.DryRun {
		fmt.Fprintf(d.progress, "%s: %s\n", host, cmdline)
		return nil, nil
	}
	log := d.runner.Logger()
	log.Debugf("running on %s: %s", host, cmdline)

	out := runner.NewOutput(opts.Options, log)
	cmd := d.exec.Command(host, []string{cmdline}, SSHConfig{
		Identity: d.identity,
		PTY:      true,
	})
	cmd.SetStdout(out)
	cmd.SetStderr(out)
	err := cmd.Run(ctx)
	out.Flush()
	if err != nil {
		if code, ok := exitCode(err); ok {
			return nil, &runner.CommandFailed{
				Argv: argv,
				Code: code,
				Tail: out.Tail(),
			}
		}
		return nil, errors.Annotatef(err, "running %q on %s", cmdline, host)
	}
	return out.Lines(), nil
}

// exitCoder is an exit from the OpenSSH client process.
type exitCoder interface {
	error
	ExitCode() int
}

// exitStatuser is an exit reported by the Go ssh client, used when no
// ssh binary is on the path.
type exitStatuser interface {
	error
	ExitStatus() int
}

// exitCode returns the remote exit code carried by err, if any.
func exitCode(err error) (int, bool) {
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode(), true
	}
	var statuser exitStatuser
	if errors.As(err, &statuser) {
		return statuser.ExitStatus(), true
	}
	return 0, false
}

// CopyTo is part of the Executor interface.
func (d *Dispatcher) CopyTo(ctx context.Context, host, src, dst string, elevate bool) error {
	if d.IsLocal(host) {
		_, err := d.Execute(ctx, host, []string{"install", "-m", "0600", src, dst}, Options{Sudo: elevate})
		return errors.Trace(err)
	}
	target := dst
	if elevate {
		target = filepath.Join("/tmp", "afscell."+filepath.Base(dst))
	}
	logger.Debugf("copying %s to %s:%s", src, host, target)
	if err := d.exec.Copy([]string{src, host + ":" + target}, SSHConfig{Identity: d.identity}); err != nil {
		return errors.Annotatef(err, "copying %s to %s", src, host)
	}
	if !elevate {
		return nil
	}
	_, err := d.Execute(ctx, host, []string{"install", "-m", "0600", target, dst}, Options{Sudo: true})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.Execute(ctx, host, []string{"rm", "-f", target}, Options{})
	return errors.Trace(err)
}
