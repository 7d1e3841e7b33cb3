// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"context"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/runner"
)

// IsRecoveredSyncSite is part of the DatabaseServer interface. A
// server that does not answer is not a sync site.
func (h *Host) IsRecoveredSyncSite(ctx context.Context, service string) (bool, error) {
	port, err := afscmd.ServicePort(service)
	if err != nil {
		return false, errors.Trace(err)
	}
	status, err := h.client.Udebug(ctx, h.name, port)
	if errors.Is(err, runner.ErrCommandFailed) {
		logger.Debugf("udebug %s on %s: %v", service, h.name, err)
		return false, nil
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	if status.ClockWarning {
		logger.Debugf("%s on %s reports a bad clock, retrying", service, h.name)
	}
	return status.Recovered(), nil
}

// TouchDatabases is part of the DatabaseServer interface. The read
// queries make a new database server write its initial version.
func (h *Host) TouchDatabases(ctx context.Context, retries int) error {
	policy := afscmd.Policy{Retries: retries}
	if _, err := h.client.ListEntries(ctx, policy); err != nil {
		return errors.Annotatef(err, "reading the protection database on %s", h.name)
	}
	if _, err := h.client.ListVLDBAll(ctx, policy); err != nil {
		return errors.Annotatef(err, "reading the volume location database on %s", h.name)
	}
	return nil
}

// CreateUser is part of the DatabaseServer interface. An existing
// user is not an error.
func (h *Host) CreateUser(ctx context.Context, name string) error {
	err := h.client.CreateUser(ctx, name)
	if afscmd.IsAlreadyExists(err) {
		logger.Debugf("user %s already exists", name)
		return nil
	}
	return errors.Annotatef(err, "creating user %s", name)
}

// AddToGroup is part of the DatabaseServer interface. Existing
// membership is not an error.
func (h *Host) AddToGroup(ctx context.Context, user, group string) error {
	err := h.client.AddToGroup(ctx, user, group)
	if afscmd.IsAlreadyExists(err) {
		return nil
	}
	return errors.Annotatef(err, "adding %s to %s", user, group)
}
