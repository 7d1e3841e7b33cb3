// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/runner"
)

// volumeCreatePolicy allows the volume location database up to ten
// minutes to accept a new volume.
var volumeCreatePolicy = afscmd.Policy{Retries: 60, Delay: 10 * time.Second}

// VolumeExists is part of the FileServer interface.
func (h *Host) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := h.client.ListVLDB(ctx, name)
	if errors.Is(err, runner.ErrNoSuchEntry) {
		return false, nil
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// CreateVolume is part of the FileServer interface. An existing
// volume is left alone.
func (h *Host) CreateVolume(ctx context.Context, name, partition string) error {
	if partition == "" {
		partition = "a"
	}
	exists, err := h.VolumeExists(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if exists && !h.client.DryRun() {
		logger.Debugf("volume %s already exists", name)
		return nil
	}
	logger.Infof("creating volume %s on %s /vicep%s", name, h.name, afscmd.PartitionLetter(partition))
	err = h.client.CreateVolume(ctx, volumeCreatePolicy, h.name, partition, name)
	return errors.Annotatef(err, "creating volume %s", name)
}

// RemoveVolume is part of the FileServer interface. The read-only
// sites go first, then the read-write volume. An absent volume is not
// an error.
func (h *Host) RemoveVolume(ctx context.Context, name string) error {
	entry, err := h.client.ListVLDB(ctx, name)
	if errors.Is(err, runner.ErrNoSuchEntry) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	for _, site := range entry.ROSites {
		err := h.client.RemoveVolume(ctx, site.Server, site.Partition, name+".readonly")
		if err != nil && !errors.Is(err, runner.ErrNoSuchEntry) {
			return errors.Annotatef(err, "removing %s.readonly from %s", name, site.Server)
		}
	}
	err = h.client.RemoveVolume(ctx, entry.RWSite.Server, entry.RWSite.Partition, name)
	if err != nil && !errors.Is(err, runner.ErrNoSuchEntry) {
		return errors.Annotatef(err, "removing %s", name)
	}
	return nil
}

// VolumeShouldNotExist is part of the FileServer interface.
func (h *Host) VolumeShouldNotExist(ctx context.Context, name string) error {
	exists, err := h.VolumeExists(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if exists {
		return errors.AlreadyExistsf("volume %s", name)
	}
	return nil
}

// ListPartitions is part of the FileServer interface.
func (h *Host) ListPartitions(ctx context.Context) ([]string, error) {
	partitions, err := h.client.ListPart(ctx, h.name)
	return partitions, errors.Annotatef(err, "listing partitions of %s", h.name)
}
