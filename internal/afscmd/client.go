// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package afscmd wraps the OpenAFS administrative commands. Each
// wrapper assembles the command's arguments, runs it through a
// remote.Executor and parses its stable textual output into records.
package afscmd

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"

	"github.com/openafs-contrib/afscell/internal/remote"
	"github.com/openafs-contrib/afscell/internal/runner"
)

var logger = loggo.GetLogger("afscell.afscmd")

// Policy is the retry policy for a single command. It is passed by
// value.
type Policy struct {
	// Retries is the number of extra attempts after the first failure.
	Retries int

	// Delay is the wait between attempts. Zero means one second.
	Delay time.Duration

	// OnFailure, when set, undoes side effects of a failed attempt
	// before the next one is made. Its errors are ignored.
	OnFailure func(ctx context.Context)
}

// NoRetry runs a command once.
var NoRetry = Policy{}

// localAuthCommands accept -localauth to use the server key instead
// of a token.
var localAuthCommands = map[string]bool{
	"bos": true,
	"vos": true,
	"pts": true,
}

// Client runs administrative commands on one host.
type Client struct {
	exec      remote.Executor
	host      string
	localAuth bool
	sudo      bool
	dryRun    bool
	clock     clock.Clock
}

// Config holds the settings of a Client.
type Config struct {
	// Executor runs the commands.
	Executor remote.Executor

	// Host is where the commands run; defaults to localhost.
	Host string

	// LocalAuth appends -localauth to bos, vos and pts. Set it
	// when the commands run as the privileged user on a server.
	LocalAuth bool

	// Sudo elevates every command.
	Sudo bool

	// DryRun prints commands instead of running them.
	DryRun bool

	// Clock drives retry delays; defaults to the wall clock.
	Clock clock.Clock
}

// New returns a Client.
func New(config Config) *Client {
	c := &Client{
		exec:      config.Executor,
		host:      config.Host,
		localAuth: config.LocalAuth,
		sudo:      config.Sudo,
		dryRun:    config.DryRun,
		clock:     config.Clock,
	}
	if c.host == "" {
		c.host = "localhost"
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	return c
}

// Host returns the host the client runs commands on.
func (c *Client) Host() string {
	return c.host
}

// Clock returns the client's clock.
func (c *Client) Clock() clock.Clock {
	return c.clock
}

// DryRun reports whether commands are printed instead of run.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// Executor returns the executor the client runs commands through.
func (c *Client) Executor() remote.Executor {
	return c.exec
}

// OnHost returns a copy of the client running commands on host.
func (c *Client) OnHost(host string) *Client {
	dup := *c
	dup.host = host
	return &dup
}

// WithLocalAuth returns a copy of the client with -localauth on or off.
func (c *Client) WithLocalAuth(localAuth bool) *Client {
	dup := *c
	dup.localAuth = localAuth
	return &dup
}

type invocation struct {
	name   string
	args   []string
	policy Policy
	quiet  bool
}

// Run runs the named command with the policy and returns its output.
func (c *Client) Run(ctx context.Context, policy Policy, name string, args ...string) (string, error) {
	return c.run(ctx, invocation{name: name, args: args, policy: policy})
}

// query runs a read-only command without logging its output.
func (c *Client) query(ctx context.Context, name string, args ...string) (string, error) {
	return c.run(ctx, invocation{name: name, args: args, quiet: true})
}

func (c *Client) argv(inv invocation) []string {
	argv := append([]string{inv.name}, inv.args...)
	if c.localAuth && localAuthCommands[inv.name] && !hasArg(inv.args, "-localauth") {
		argv = append(argv, "-localauth")
	}
	return argv
}

func hasArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

func (c *Client) run(ctx context.Context, inv invocation) (string, error) {
	argv := c.argv(inv)
	opts := remote.Options{
		Options: runner.Options{Quiet: inv.quiet, DryRun: c.dryRun},
		Sudo:    c.sudo,
	}
	var lines []string
	attempt := func() error {
		var err error
		lines, err = c.exec.Execute(ctx, c.host, argv, opts)
		return translate(inv.name, err)
	}
	if inv.policy.Retries <= 0 {
		if err := attempt(); err != nil {
			return "", err
		}
		return strings.Join(lines, "\n"), nil
	}

	delay := inv.policy.Delay
	if delay <= 0 {
		delay = time.Second
	}
	attempts := inv.policy.Retries + 1
	err := retry.Call(retry.CallArgs{
		Func: attempt,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, runner.ErrCommandFailed)
		},
		NotifyFunc: func(err error, n int) {
			if n >= attempts {
				return
			}
			logger.Debugf("%s failed (attempt %d of %d): %v", inv.name, n, attempts, err)
			if inv.policy.OnFailure != nil {
				inv.policy.OnFailure(ctx)
			}
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if retry.IsRetryStopped(err) {
			return "", errors.Trace(ctx.Err())
		}
		if retry.IsAttemptsExceeded(err) {
			return "", retry.LastError(err)
		}
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// noSuchEntryMarkers are vos messages reporting an absent entry.
var noSuchEntryMarkers = []string{
	"VLDB: no such entry",
	"does not exist",
}

// translate turns known failure messages into typed errors.
func translate(name string, err error) error {
	if err == nil {
		return nil
	}
	failed, ok := runner.AsCommandFailed(err)
	if !ok || name != "vos" {
		return err
	}
	output := failed.Output()
	for _, marker := range noSuchEntryMarkers {
		if strings.Contains(output, marker) {
			failed.Kind = runner.NoSuchEntry
			break
		}
	}
	return err
}

// IsAlreadyExists reports whether err is a command failure caused by
// an entry that already exists, a benign replay of an earlier step.
func IsAlreadyExists(err error) bool {
	failed, ok := runner.AsCommandFailed(err)
	return ok && strings.Contains(failed.Output(), "already exists")
}

// IsFileExists reports whether err is a command failure caused by a
// path that already exists, such as a repeated fs mkmount.
func IsFileExists(err error) bool {
	failed, ok := runner.AsCommandFailed(err)
	return ok && strings.Contains(failed.Output(), "File exists")
}
