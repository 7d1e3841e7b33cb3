// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell

import (
	"context"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/keytab"
)

// Teardown stops the cache managers and servers of every host and
// removes the installation. With purge the configuration, databases,
// volume data and client caches go too. Every step accepts state that
// is already gone.
func (c *Cell) Teardown(ctx context.Context, purge bool) error {
	if c.installer == nil {
		return errors.NotValidf("teardown without installer")
	}
	hosts := c.Hosts()
	for _, h := range hosts {
		if err := c.installer.StopClient(ctx, h.Name()); err != nil {
			return errors.Trace(err)
		}
	}
	for _, h := range hosts {
		if err := c.installer.StopServers(ctx, h.Name()); err != nil {
			return errors.Trace(err)
		}
	}
	for _, h := range hosts {
		if err := c.installer.Remove(ctx, h.Name(), purge); err != nil {
			return errors.Trace(err)
		}
	}
	if c.impersonate && c.keytab != "" {
		if err := keytab.RemoveFake(c.keytab); err != nil {
			return errors.Trace(err)
		}
	}
	logger.Infof("cell %s torn down", c.name)
	return nil
}

// HostStatus is what one server reports about itself.
type HostStatus struct {
	Name      string
	Cell      afscmd.CellInfo
	Services  map[string]afscmd.Instance
	SyncSites map[string]bool
}

// Status queries every server of the cell.
func (c *Cell) Status(ctx context.Context) ([]HostStatus, error) {
	var result []HostStatus
	for _, h := range c.Hosts() {
		info, err := h.CellInfo(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		services, err := h.Services(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		status := HostStatus{
			Name:      h.Name(),
			Cell:      info,
			Services:  services,
			SyncSites: make(map[string]bool),
		}
		if c.isDB(h) {
			for _, service := range dbServices {
				ok, err := h.IsRecoveredSyncSite(ctx, service)
				if err != nil {
					return nil, errors.Trace(err)
				}
				status.SyncSites[service] = ok
			}
		}
		result = append(result, status)
	}
	return result, nil
}

// CacheParms reports the local cache manager's cache usage.
func (c *Cell) CacheParms(ctx context.Context) (afscmd.CacheParms, error) {
	return c.client.GetCacheParms(ctx)
}
