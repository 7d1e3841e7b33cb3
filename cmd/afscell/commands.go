// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/ansiterm"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/naturalsort"
	"github.com/mattn/go-isatty"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/cell"
)

func checkEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

type newCellCommand struct {
	noKeys bool
}

func (c *newCellCommand) Info() *Info {
	return &Info{
		Name:    "newcell",
		Purpose: "create the cell on its database and file servers",
		Doc: `
Installs the service key when a keytab is configured, then sets up the
first database server, the first file server with the root volumes,
the remaining database servers and the remaining file servers.
Running it again on the same cell converges without duplicating
anything.`,
	}
}

func (c *newCellCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.noKeys, "no-keys", false, "do not install the service key")
}

func (c *newCellCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *newCellCommand) Run(ctx context.Context, env *Environment) error {
	if !c.noKeys && (env.Config.Keytab != "" || env.Config.Impersonate) {
		if err := env.Cell.SetServiceKeys(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(env.Cell.NewCell(ctx))
}

type mtRootCommand struct {
	login   bool
	volumes []string
}

func (c *mtRootCommand) Info() *Info {
	return &Info{
		Name:    "mtroot",
		Args:    "[volume ...]",
		Purpose: "mount and replicate the root volumes",
		Doc: `
Needs a cache manager on this machine that belongs to the cell, and an
admin token. Volumes named on the command line are created and mounted
below the cell root, in addition to the configured volumes.`,
	}
}

func (c *mtRootCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.login, "login", false, "obtain a token for the first admin first")
}

func (c *mtRootCommand) Init(args []string) error {
	c.volumes = args
	return nil
}

func (c *mtRootCommand) Run(ctx context.Context, env *Environment) error {
	if c.login {
		if err := env.Cell.Login(ctx, env.Config.Admins[0]); err != nil {
			return errors.Trace(err)
		}
	}
	volumes := append(append([]string(nil), env.Config.Volumes...), c.volumes...)
	return errors.Trace(env.Cell.MountRoot(ctx, volumes))
}

type addFSCommand struct {
	hosts []string
}

func (c *addFSCommand) Info() *Info {
	return &Info{
		Name:    "addfs",
		Args:    "<host> ...",
		Purpose: "add file servers to the cell",
	}
}

func (c *addFSCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *addFSCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no host specified")
	}
	c.hosts = args
	return nil
}

func (c *addFSCommand) Run(ctx context.Context, env *Environment) error {
	for _, name := range c.hosts {
		agent, err := env.Agent(name)
		if err != nil {
			return errors.Trace(err)
		}
		if err := env.Cell.AddFileServer(ctx, agent); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

type setKeyCommand struct{}

func (c *setKeyCommand) Info() *Info {
	return &Info{
		Name:    "setkey",
		Purpose: "install the service key on every server",
	}
}

func (c *setKeyCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *setKeyCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *setKeyCommand) Run(ctx context.Context, env *Environment) error {
	return errors.Trace(env.Cell.SetServiceKeys(ctx))
}

type loginCommand struct {
	user string
}

func (c *loginCommand) Info() *Info {
	return &Info{
		Name:    "login",
		Args:    "[user]",
		Purpose: "obtain a token for a user, the first admin by default",
	}
}

func (c *loginCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *loginCommand) Init(args []string) error {
	switch len(args) {
	case 0:
	case 1:
		c.user = args[0]
	default:
		return errors.Errorf("unrecognized args: %q", args[1:])
	}
	return nil
}

func (c *loginCommand) Run(ctx context.Context, env *Environment) error {
	user := c.user
	if user == "" {
		user = env.Config.Admins[0]
	}
	if err := env.Cell.Login(ctx, user); err != nil {
		return errors.Trace(err)
	}
	tokens, err := env.Cell.Tokens(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintln(env.Stdout, strings.TrimSpace(tokens))
	return nil
}

type logoutCommand struct{}

func (c *logoutCommand) Info() *Info {
	return &Info{
		Name:    "logout",
		Purpose: "discard the local tokens",
	}
}

func (c *logoutCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *logoutCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *logoutCommand) Run(ctx context.Context, env *Environment) error {
	return errors.Trace(env.Cell.Logout(ctx))
}

type teardownCommand struct {
	purge bool
}

func (c *teardownCommand) Info() *Info {
	return &Info{
		Name:    "teardown",
		Purpose: "stop and remove the cell's servers and clients",
		Doc: `
With --purge, or purge set in the configuration, the server
configuration, databases, volume data and client caches are deleted
too.`,
	}
}

func (c *teardownCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.purge, "purge", false, "delete configuration and data")
}

func (c *teardownCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *teardownCommand) Run(ctx context.Context, env *Environment) error {
	return errors.Trace(env.Cell.Teardown(ctx, c.purge || env.Config.Purge))
}

type statusCommand struct {
	cache bool
	out   Output
}

func (c *statusCommand) Info() *Info {
	return &Info{
		Name:    "status",
		Purpose: "report the cell view, services and sync sites of every server",
	}
}

func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&c.cache, "cache", false, "also report the local cache usage")
	formatters := map[string]Formatter{"tabular": formatStatusTabular}
	for name, formatter := range DefaultFormatters {
		formatters[name] = formatter
	}
	c.out.AddFlags(f, "tabular", formatters)
}

func (c *statusCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *statusCommand) Run(ctx context.Context, env *Environment) error {
	status, err := env.Cell.Status(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	var parms *afscmd.CacheParms
	if c.cache {
		p, err := env.Cell.CacheParms(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		parms = &p
	}
	return errors.Trace(c.out.Write(env.Stdout, newStatusDocument(status, parms)))
}

type statusDocument struct {
	Hosts []hostStatus `yaml:"hosts" json:"hosts"`
	Cache *cacheStatus `yaml:"cache,omitempty" json:"cache,omitempty"`
}

type hostStatus struct {
	Name      string            `yaml:"name" json:"name"`
	Cell      string            `yaml:"cell" json:"cell"`
	DBServers []string          `yaml:"db-servers" json:"db-servers"`
	Services  map[string]string `yaml:"services,omitempty" json:"services,omitempty"`
	SyncSite  []string          `yaml:"sync-site,omitempty" json:"sync-site,omitempty"`
}

type cacheStatus struct {
	UsedKB uint64 `yaml:"used-kb" json:"used-kb"`
	SizeKB uint64 `yaml:"size-kb" json:"size-kb"`
}

func newStatusDocument(status []cell.HostStatus, parms *afscmd.CacheParms) *statusDocument {
	doc := &statusDocument{}
	for _, s := range status {
		h := hostStatus{
			Name:      s.Name,
			Cell:      s.Cell.Name,
			DBServers: s.Cell.Hosts,
		}
		for name, instance := range s.Services {
			if h.Services == nil {
				h.Services = make(map[string]string)
			}
			h.Services[name] = string(instance.Status)
		}
		for service, ok := range s.SyncSites {
			if ok {
				h.SyncSite = append(h.SyncSite, service)
			}
		}
		naturalsort.Sort(h.SyncSite)
		doc.Hosts = append(doc.Hosts, h)
	}
	if parms != nil {
		doc.Cache = &cacheStatus{UsedKB: parms.UsedKB, SizeKB: parms.SizeKB}
	}
	return doc
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

func formatStatusTabular(w io.Writer, value any) error {
	doc, ok := value.(*statusDocument)
	if !ok {
		return errors.Errorf("expected *statusDocument, got %T", value)
	}
	return writeStatus(w, isTerminal(w), doc)
}

// writeStatus writes one line per server. On a terminal the columns
// are aligned; otherwise they are tab separated.
func writeStatus(w io.Writer, terminal bool, doc *statusDocument) error {
	out := w
	var tw *ansiterm.TabWriter
	if terminal {
		tw = ansiterm.NewTabWriter(w, 0, 1, 2, ' ', 0)
		out = tw
	}
	fmt.Fprintf(out, "HOST\tCELL\tDB SERVERS\tSERVICES\tSYNC SITE\n")
	for _, h := range doc.Hosts {
		var services []string
		for name, status := range h.Services {
			services = append(services, name+"="+status)
		}
		naturalsort.Sort(services)
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			h.Name, h.Cell, strings.Join(h.DBServers, ","), dash(strings.Join(services, ",")), dash(strings.Join(h.SyncSite, ",")))
	}
	if tw != nil {
		if err := tw.Flush(); err != nil {
			return errors.Trace(err)
		}
	}
	if doc.Cache != nil {
		fmt.Fprintf(w, "\ncache: %s used of %s\n",
			humanize.IBytes(doc.Cache.UsedKB*1024), humanize.IBytes(doc.Cache.SizeKB*1024))
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
