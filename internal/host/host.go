// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package host is the per-host agent. Every mutator first inspects
// the current state and skips work that is already done, so repeating
// an operation converges instead of failing.
package host

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/remote"
	"github.com/openafs-contrib/afscell/internal/runner"
	"github.com/openafs-contrib/afscell/paths"
)

var logger = loggo.GetLogger("afscell.host")

var (
	dafsPrograms    = []string{"dafileserver", "davolserver", "salvageserver", "dasalvager"}
	classicPrograms = []string{"fileserver", "volserver", "salvager"}
)

// Host is the agent for one cell member.
type Host struct {
	name    string
	options map[string]string
	dafs    bool
	client  *afscmd.Client
	clock   clock.Clock
	paths   paths.Collection

	cellinfo *afscmd.CellInfo
}

// Config holds the settings of a Host.
type Config struct {
	// Name is the host name; "localhost" is replaced by the real name.
	Name string

	// Options maps program names to their flag strings for this host.
	Options map[string]string

	// Client runs the commands. The host binds a copy to itself and
	// keeps the client's -localauth setting.
	Client *afscmd.Client

	// Locality resolves "localhost"; defaults to this machine.
	Locality *remote.Locality

	// Paths is the installation layout of the host.
	Paths paths.Collection
}

// New returns the agent for a host.
func New(config Config) (*Host, error) {
	if config.Name == "" {
		return nil, errors.NotValidf("empty host name")
	}
	if config.Client == nil {
		return nil, errors.NotValidf("nil client")
	}
	name := config.Name
	if config.Locality != nil {
		name = config.Locality.Canonical(name)
	} else {
		name = remote.Canonical(name)
	}
	options := make(map[string]string)
	for k, v := range config.Options {
		options[k] = v
	}
	layout := config.Paths
	if layout.ServerBin == "" {
		layout = paths.Transarc
	}
	client := config.Client.OnHost(name)
	return &Host{
		name:    name,
		options: options,
		dafs:    usesDAFS(options),
		client:  client,
		clock:   client.Clock(),
		paths:   layout,
	}, nil
}

// usesDAFS picks the demand-attach flavour unless only classic file
// server programs are configured.
func usesDAFS(options map[string]string) bool {
	for _, name := range dafsPrograms {
		if _, ok := options[name]; ok {
			return true
		}
	}
	for _, name := range classicPrograms {
		if _, ok := options[name]; ok {
			return false
		}
	}
	return true
}

// Name returns the canonical host name.
func (h *Host) Name() string {
	return h.name
}

// IsDAFS reports whether the host runs the demand-attach file server.
func (h *Host) IsDAFS() bool {
	return h.dafs
}

// String is part of the fmt.Stringer interface.
func (h *Host) String() string {
	return h.name
}

// Client returns the command client bound to this host.
func (h *Host) Client() *afscmd.Client {
	return h.client
}

// commandLine returns the program path followed by its configured
// flags.
func (h *Host) commandLine(program string) string {
	line := h.paths.ServerProgram(program)
	if flags := strings.TrimSpace(h.options[program]); flags != "" {
		line += " " + flags
	}
	return line
}

// CellInfo is part of the CellConfigurer interface. The result is
// cached until the next mutation.
func (h *Host) CellInfo(ctx context.Context) (afscmd.CellInfo, error) {
	if h.cellinfo != nil {
		return *h.cellinfo, nil
	}
	info, err := h.client.ListHosts(ctx, h.name)
	if err != nil {
		return afscmd.CellInfo{}, errors.Annotatef(err, "reading cell info of %s", h.name)
	}
	h.cellinfo = &info
	return info, nil
}

func (h *Host) invalidate() {
	h.cellinfo = nil
}

// SetCellName is part of the CellConfigurer interface.
func (h *Host) SetCellName(ctx context.Context, name string) error {
	info, err := h.CellInfo(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if info.Name == name {
		return nil
	}
	logger.Infof("setting cell name of %s to %s", h.name, name)
	h.invalidate()
	if err := h.client.SetCellName(ctx, h.name, name); err != nil {
		return errors.Annotatef(err, "setting cell name of %s", h.name)
	}
	info, err = h.CellInfo(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if info.Name != name && !dryRunInfo(info) {
		return runner.Invariantf("cell name of %s is %q after setting it to %q", h.name, info.Name, name)
	}
	return nil
}

// SetCellHosts is part of the CellConfigurer interface. Hosts are
// added and removed one at a time, then the result is checked.
func (h *Host) SetCellHosts(ctx context.Context, hosts []string) error {
	info, err := h.CellInfo(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	current := set.NewStrings(info.Hosts...)
	wanted := set.NewStrings(hosts...)
	var add []string
	for _, host := range hosts {
		if !current.Contains(host) && !contains(add, host) {
			add = append(add, host)
		}
	}
	remove := current.Difference(wanted).SortedValues()
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	h.invalidate()
	for _, host := range add {
		logger.Infof("adding %s to the database servers of %s", host, h.name)
		if err := h.client.AddHost(ctx, h.name, host); err != nil {
			return errors.Annotatef(err, "adding database server %s on %s", host, h.name)
		}
	}
	for _, host := range remove {
		logger.Infof("removing %s from the database servers of %s", host, h.name)
		if err := h.client.RemoveHost(ctx, h.name, host); err != nil {
			return errors.Annotatef(err, "removing database server %s on %s", host, h.name)
		}
	}

	info, err = h.CellInfo(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if dryRunInfo(info) {
		return nil
	}
	if got := set.NewStrings(info.Hosts...); !got.Difference(wanted).IsEmpty() || !wanted.Difference(got).IsEmpty() {
		sorted := append([]string(nil), hosts...)
		sort.Strings(sorted)
		return runner.Invariantf("database servers of %s are %v, want %v", h.name, got.SortedValues(), sorted)
	}
	return nil
}

// dryRunInfo reports whether info is the empty result of a dry run.
func dryRunInfo(info afscmd.CellInfo) bool {
	return info.Name == "" && len(info.Hosts) == 0
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
