// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cell bootstraps an OpenAFS cell across its hosts. Operations
// run as straight-line sequences: the order of membership edits and
// service restarts is what keeps the database servers consistent, so
// nothing here runs in parallel.
package cell

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/moby/sys/mountinfo"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/host"
	"github.com/openafs-contrib/afscell/internal/installer"
)

var logger = loggo.GetLogger("afscell.cell")

// Database services, in the order they are brought up.
var dbServices = []string{"ptserver", "vlserver"}

const (
	// AdminGroup is the protection group of cell administrators.
	AdminGroup = "system:administrators"

	// touchRetries is the budget for the first database queries.
	touchRetries = 10

	// QuorumAttempts and QuorumDelay bound the wait for an election.
	QuorumAttempts = 60
	QuorumDelay    = 10 * time.Second

	// SettleTime lets a freshly restarted database group start its
	// election before quorum is polled.
	SettleTime = 15 * time.Second

	// releaseRetries bounds vos addsite and vos release.
	releaseRetries = 10
)

// Cell is the orchestrator of one cell.
type Cell struct {
	name        string
	realm       string
	db          []host.Agent
	fs          []host.Agent
	admins      []string
	impersonate bool
	keytab      string
	dynroot     bool

	client    *afscmd.Client
	installer installer.Installer
	clock     clock.Clock
	mounts    func() ([]*mountinfo.Info, error)
}

// Config holds the settings of a Cell.
type Config struct {
	// Name is the cell name.
	Name string

	// Realm is the Kerberos realm; defaults to the upper-cased cell
	// name.
	Realm string

	// DB are the database servers. The first is the seed.
	DB []host.Agent

	// FS are the file servers. The first holds the read-write root
	// volumes. An agent serving both roles must be the same value in
	// both lists.
	FS []host.Agent

	// Admins are the administrator names in protection database
	// form, with "." separating instance from name.
	Admins []string

	// Impersonate forges tokens from the service keytab instead of
	// asking a key distribution center.
	Impersonate bool

	// Keytab is the path of the service keytab.
	Keytab string

	// Dynroot reports whether the local cache manager runs with
	// -dynroot.
	Dynroot bool

	// Client runs client side commands (fs, vos with a token, aklog)
	// on this machine.
	Client *afscmd.Client

	// Installer undoes the installation on teardown.
	Installer installer.Installer

	// Clock defaults to the client's clock.
	Clock clock.Clock

	// Mounts lists the AFS mounts of this machine; defaults to
	// reading the mount table.
	Mounts func() ([]*mountinfo.Info, error)
}

// Validate checks the configuration.
func (config Config) Validate() error {
	if config.Name == "" {
		return errors.NotValidf("empty cell name")
	}
	if len(config.DB) == 0 {
		return errors.NotValidf("cell without database servers")
	}
	if len(config.FS) == 0 {
		return errors.NotValidf("cell without file servers")
	}
	if len(config.Admins) == 0 {
		return errors.NotValidf("cell without admins")
	}
	if config.Client == nil {
		return errors.NotValidf("nil client")
	}
	return nil
}

// New returns the orchestrator of a cell.
func New(config Config) (*Cell, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Cell{
		name:        config.Name,
		realm:       config.Realm,
		db:          config.DB,
		fs:          config.FS,
		admins:      config.Admins,
		impersonate: config.Impersonate,
		keytab:      config.Keytab,
		dynroot:     config.Dynroot,
		client:      config.Client.WithLocalAuth(false),
		installer:   config.Installer,
		clock:       config.Clock,
		mounts:      config.Mounts,
	}
	if c.realm == "" {
		c.realm = strings.ToUpper(c.name)
	}
	if c.clock == nil {
		c.clock = config.Client.Clock()
	}
	if c.mounts == nil {
		c.mounts = afsMounts
	}
	return c, nil
}

// Name returns the cell name.
func (c *Cell) Name() string {
	return c.name
}

// Realm returns the Kerberos realm.
func (c *Cell) Realm() string {
	return c.realm
}

// Hosts returns every server of the cell, database servers first,
// each once.
func (c *Cell) Hosts() []host.Agent {
	seen := set.NewStrings()
	var hosts []host.Agent
	for _, h := range append(append([]host.Agent(nil), c.db...), c.fs...) {
		if seen.Contains(h.Name()) {
			continue
		}
		seen.Add(h.Name())
		hosts = append(hosts, h)
	}
	return hosts
}

func (c *Cell) seed() host.Agent {
	return c.db[0]
}

func (c *Cell) dbNames() []string {
	names := make([]string, len(c.db))
	for i, h := range c.db {
		names[i] = h.Name()
	}
	return names
}

func (c *Cell) isDB(h host.Agent) bool {
	for _, db := range c.db {
		if db.Name() == h.Name() {
			return true
		}
	}
	return false
}

// addAdmins grants super-user status to every admin on h.
func (c *Cell) addAdmins(ctx context.Context, h host.Agent) error {
	for _, admin := range c.admins {
		if err := h.AddUser(ctx, admin); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
