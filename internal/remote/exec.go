// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package remote

import (
	"context"
	"io"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/ssh"
)

// SSHConfig holds the per-connection settings of the remote shell.
// Password authentication is always disabled.
type SSHConfig struct {
	// Identity is an optional private key file.
	Identity string
	// PTY allocates a terminal so that signals reach the remote side.
	PTY bool
}

// CommandExec runs a command on a given host.
type CommandExec interface {
	// Command returns a command for executing on host.
	Command(host string, command []string, config SSHConfig) CommandRunner

	// Copy copies files between hosts, scp style.
	Copy(args []string, config SSHConfig) error
}

// CommandRunner runs a given command.
type CommandRunner interface {
	// Set the various stdin, out, errs
	SetStdin(io.Reader)
	SetStdout(io.Writer)
	SetStderr(io.Writer)

	// Run runs the command, and returns the result as an error.
	// Cancelling ctx kills the connection.
	Run(ctx context.Context) error
}

// NewSSHExec returns a CommandExec backed by the OpenSSH client. A new
// connection is made for every command.
func NewSSHExec() CommandExec {
	return sshExec{client: ssh.DefaultClient}
}

type sshExec struct {
	client ssh.Client
}

func (e sshExec) options(config SSHConfig) *ssh.Options {
	var options ssh.Options
	if config.PTY {
		options.EnablePTY()
	}
	if config.Identity != "" {
		options.SetIdentities(config.Identity)
	}
	return &options
}

// Command is part of the CommandExec interface.
func (e sshExec) Command(host string, command []string, config SSHConfig) CommandRunner {
	return &sshRunner{cmd: e.client.Command(host, command, e.options(config))}
}

// Copy is part of the CommandExec interface.
func (e sshExec) Copy(args []string, config SSHConfig) error {
	return errors.Trace(e.client.Copy(args, e.options(config)))
}

type sshRunner struct {
	cmd *ssh.Cmd
}

func (r *sshRunner) SetStdin(stdin io.Reader)   { r.cmd.Stdin = stdin }
func (r *sshRunner) SetStdout(stdout io.Writer) { r.cmd.Stdout = stdout }
func (r *sshRunner) SetStderr(stderr io.Writer) { r.cmd.Stderr = stderr }

func (r *sshRunner) Run(ctx context.Context) error {
	if err := r.cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- r.cmd.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := r.cmd.Kill(); err != nil {
			logger.Debugf("killing ssh command: %v", err)
		}
		<-done
		return ctx.Err()
	}
}
