// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/host"
	"github.com/openafs-contrib/afscell/internal/runner"
)

type step struct {
	name string
	run  func(context.Context) error
}

// NewCell brings up the cell: the seed database server first, then
// the first file server with the root volumes, then the remaining
// database and file servers. Running it again on a cell it created
// converges without duplicating anything.
func (c *Cell) NewCell(ctx context.Context) error {
	logger.Infof("creating cell %s (realm %s)", c.name, c.realm)
	steps := []step{
		{"pinging hosts", c.pingHosts},
		{"shutting down hosts", c.shutdownHosts},
		{"setting up first database server", c.setupFirstDBServer},
		{"setting up first file server", c.setupFirstFSServer},
	}
	if len(c.db) > 1 {
		steps = append(steps, step{"adding database servers", c.addDBServers})
	}
	if len(c.fs) > 1 {
		steps = append(steps, step{"adding file servers", c.addFSServers})
	}
	for _, s := range steps {
		logger.Infof("%s", s.name)
		if err := s.run(ctx); err != nil {
			logger.Errorf("%s of cell %s failed: %v", s.name, c.name, err)
			return errors.Annotate(err, s.name)
		}
	}
	logger.Infof("cell %s created", c.name)
	return nil
}

// pingHosts fails unless every bosserver answers. Nothing has been
// changed when it fails.
func (c *Cell) pingHosts(ctx context.Context) error {
	var missing []string
	for _, h := range c.Hosts() {
		if !h.RxPing(ctx, "bosserver", 0) {
			missing = append(missing, h.Name())
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("bosserver not answering on %s", strings.Join(missing, ", "))
	}
	return nil
}

// shutdownHosts stops every instance so that the cell configuration
// can be edited without a running server rewriting it.
func (c *Cell) shutdownHosts(ctx context.Context) error {
	for _, h := range c.Hosts() {
		if err := h.ShutdownAll(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (c *Cell) startDatabase(ctx context.Context, h host.Agent, service string) error {
	if err := h.CreateDatabase(ctx, service); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(h.WaitForStatus(ctx, service, afscmd.StatusRunning, host.StatusAttempts, host.StatusDelay))
}

// setupFirstDBServer creates the databases on the seed alone. A seed
// listing servers that do not yet exist could never elect itself.
func (c *Cell) setupFirstDBServer(ctx context.Context) error {
	seed := c.seed()
	if err := seed.SetCellName(ctx, c.name); err != nil {
		return errors.Trace(err)
	}
	if err := seed.SetCellHosts(ctx, []string{seed.Name()}); err != nil {
		return errors.Trace(err)
	}
	for _, service := range dbServices {
		if err := c.startDatabase(ctx, seed, service); err != nil {
			return errors.Trace(err)
		}
	}
	for _, service := range dbServices {
		if err := c.WaitForQuorum(ctx, service, []host.Agent{seed}); err != nil {
			return errors.Trace(err)
		}
	}
	if err := seed.TouchDatabases(ctx, touchRetries); err != nil {
		return errors.Trace(err)
	}
	for _, admin := range c.admins {
		if err := seed.CreateUser(ctx, admin); err != nil {
			return errors.Trace(err)
		}
		if err := seed.AddToGroup(ctx, admin, AdminGroup); err != nil {
			return errors.Trace(err)
		}
		if err := seed.AddUser(ctx, admin); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// prime gives a server that is not the seed the seed's view of the
// cell and the admins.
func (c *Cell) prime(ctx context.Context, h host.Agent, dbHosts []string) error {
	if err := h.SetCellName(ctx, c.name); err != nil {
		return errors.Trace(err)
	}
	if err := h.SetCellHosts(ctx, dbHosts); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.addAdmins(ctx, h))
}

func (c *Cell) startFileServer(ctx context.Context, h host.Agent) error {
	if err := h.CreateFileServer(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(h.WaitForStatus(ctx, h.FileServerInstance(), afscmd.StatusRunning, host.StatusAttempts, host.StatusDelay))
}

// setupFirstFSServer starts the first file server against the single
// member database view and creates the root volumes on it.
func (c *Cell) setupFirstFSServer(ctx context.Context) error {
	fs := c.fs[0]
	if fs.Name() != c.seed().Name() {
		if err := c.prime(ctx, fs, []string{c.seed().Name()}); err != nil {
			return errors.Trace(err)
		}
	}
	if err := c.startFileServer(ctx, fs); err != nil {
		return errors.Trace(err)
	}
	for _, volume := range []string{"root.afs", "root.cell"} {
		if err := fs.CreateVolume(ctx, volume, ""); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// addDBServers grows the database group from the seed to every
// database server. Membership is rewritten on every server while no
// database service runs, so every CellServDB ends up identical before
// any election starts.
func (c *Cell) addDBServers(ctx context.Context) error {
	seed := c.seed()
	for _, service := range dbServices {
		if err := seed.Shutdown(ctx, service); err != nil {
			return errors.Trace(err)
		}
		if err := seed.WaitForStatus(ctx, service, afscmd.StatusShutdown, host.StatusAttempts, host.StatusDelay); err != nil {
			return errors.Trace(err)
		}
	}
	all := c.dbNames()
	for _, h := range c.db {
		if err := h.SetCellName(ctx, c.name); err != nil {
			return errors.Trace(err)
		}
		// Going through the seed alone normalises whatever the
		// server listed before.
		if err := h.SetCellHosts(ctx, []string{seed.Name()}); err != nil {
			return errors.Trace(err)
		}
		if err := h.SetCellHosts(ctx, all); err != nil {
			return errors.Trace(err)
		}
	}
	for _, service := range dbServices {
		if err := seed.Restart(ctx, service); err != nil {
			return errors.Trace(err)
		}
		if err := seed.WaitForStatus(ctx, service, afscmd.StatusRunning, host.StatusAttempts, host.StatusDelay); err != nil {
			return errors.Trace(err)
		}
		for _, h := range c.db[1:] {
			if err := c.addAdmins(ctx, h); err != nil {
				return errors.Trace(err)
			}
			if err := c.startDatabase(ctx, h, service); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if err := c.sleep(ctx, SettleTime); err != nil {
		return errors.Trace(err)
	}
	for _, service := range dbServices {
		if err := c.WaitForQuorum(ctx, service, c.db); err != nil {
			return errors.Trace(err)
		}
	}

	// The first file server was primed with the seed alone.
	if fs := c.fs[0]; !c.isDB(fs) {
		if err := fs.SetCellHosts(ctx, all); err != nil {
			return errors.Trace(err)
		}
		if err := fs.Restart(ctx, fs.FileServerInstance()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (c *Cell) sleep(ctx context.Context, d time.Duration) error {
	logger.Debugf("waiting %s for the election to start", d)
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

func (c *Cell) addFSServers(ctx context.Context) error {
	for _, h := range c.fs[1:] {
		if err := c.AddFileServer(ctx, h); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// AddFileServer admits a file server into the running cell. It is
// idempotent.
func (c *Cell) AddFileServer(ctx context.Context, h host.Agent) error {
	logger.Infof("adding file server %s", h.Name())
	if err := c.prime(ctx, h, c.dbNames()); err != nil {
		return errors.Annotatef(err, "adding file server %s", h.Name())
	}
	return errors.Annotatef(c.startFileServer(ctx, h), "adding file server %s", h.Name())
}

// errNoQuorum marks a quorum poll that should be repeated.
const errNoQuorum = errors.ConstError("no quorum")

// WaitForQuorum waits until exactly one of hosts is the recovered sync
// site of service. No sync site, or more than one, is polled again
// until the budget runs out.
func (c *Cell) WaitForQuorum(ctx context.Context, service string, hosts []host.Agent) error {
	if c.client.DryRun() {
		return nil
	}
	last := "no sync site"
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var sites []string
			for _, h := range hosts {
				ok, err := h.IsRecoveredSyncSite(ctx, service)
				if err != nil {
					return errors.Trace(err)
				}
				if ok {
					sites = append(sites, h.Name())
				}
			}
			switch len(sites) {
			case 1:
				logger.Infof("%s quorum reached; sync site is %s", service, sites[0])
				return nil
			case 0:
				last = "no sync site"
			default:
				last = "sync sites " + strings.Join(sites, ", ")
			}
			return errors.Annotate(errNoQuorum, last)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNoQuorum)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("waiting for %s quorum (attempt %d): %v", service, attempt, err)
		},
		Attempts: QuorumAttempts,
		Delay:    QuorumDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		return runner.Invariantf("%s quorum not reached within %d attempts; %s", service, QuorumAttempts, last)
	}
	if retry.IsRetryStopped(err) {
		return errors.Trace(ctx.Err())
	}
	return errors.Trace(err)
}
