// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell

import (
	"context"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/moby/sys/mountinfo"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

// AnyUser is the identity of unauthenticated users.
const AnyUser = "system:anyuser"

// afsMounts reads the AFS entries of the mount table.
func afsMounts() ([]*mountinfo.Info, error) {
	return mountinfo.GetMounts(func(info *mountinfo.Info) (skip, stop bool) {
		return !isAFS(info), false
	})
}

func isAFS(info *mountinfo.Info) bool {
	return info.FSType == "afs" || info.Source == "AFS"
}

// MountPoint returns where the local cache manager mounts AFS.
func (c *Cell) MountPoint() (string, error) {
	mounts, err := c.mounts()
	if err != nil {
		return "", errors.Annotate(err, "reading mount table")
	}
	for _, m := range mounts {
		if isAFS(m) {
			return m.Mountpoint, nil
		}
	}
	return "", errors.NotFoundf("AFS mount")
}

// mountLayout names the paths of the root volumes.
type mountLayout struct {
	// mounts are created in order as dir, volume, read-write.
	mounts []mount
	// rootAFS and rootCell get the anonymous read rights.
	rootAFS  string
	rootCell string
}

type mount struct {
	dir    string
	volume string
	rw     bool
}

// layout returns the root mount points. Without dynroot the cache
// manager mounts root.afs itself; with dynroot the cell entries are
// synthesised and root.afs is only reachable below the read-write
// cell path.
func (c *Cell) layout(afs string) mountLayout {
	cellRW := filepath.Join(afs, "."+c.name)
	if !c.dynroot {
		return mountLayout{
			mounts: []mount{
				{filepath.Join(afs, c.name), "root.cell", false},
				{cellRW, "root.cell", true},
				{filepath.Join(cellRW, ".afs"), "root.afs", true},
			},
			rootAFS:  afs,
			rootCell: cellRW,
		}
	}
	afsRW := filepath.Join(cellRW, ".afs")
	return mountLayout{
		mounts: []mount{
			{afsRW, "root.afs", true},
			{filepath.Join(afsRW, c.name), "root.cell", false},
			{filepath.Join(afsRW, "."+c.name), "root.cell", true},
		},
		rootAFS:  afsRW,
		rootCell: cellRW,
	}
}

// MountRoot populates the namespace: it replicates the root volumes,
// mounts them, opens them to anonymous readers, then creates, mounts
// and replicates each extra volume below the cell root. The local
// cache manager must belong to the cell and hold an admin token.
func (c *Cell) MountRoot(ctx context.Context, volumes []string) error {
	afs, err := c.MountPoint()
	if err != nil {
		return errors.Trace(err)
	}
	wscell, err := c.client.WSCell(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if wscell != c.name && !c.client.DryRun() {
		return errors.Errorf("cache manager belongs to cell %q, not %q", wscell, c.name)
	}

	for _, volume := range []string{"root.afs", "root.cell"} {
		if err := c.replicate(ctx, volume); err != nil {
			return errors.Trace(err)
		}
	}
	layout := c.layout(afs)
	for _, m := range layout.mounts {
		if err := c.mkmount(ctx, m); err != nil {
			return errors.Trace(err)
		}
	}
	for _, dir := range []string{layout.rootAFS, layout.rootCell} {
		if err := c.client.SetACL(ctx, dir, AnyUser, "rl"); err != nil {
			return errors.Trace(err)
		}
	}

	for _, volume := range volumes {
		if err := c.mountVolume(ctx, layout.rootCell, volume); err != nil {
			return errors.Annotatef(err, "mounting volume %s", volume)
		}
	}
	for _, volume := range []string{"root.afs", "root.cell"} {
		if err := c.client.Release(ctx, c.releasePolicy(volume), volume); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(c.client.CheckVolumes(ctx))
}

// mountVolume creates a volume on the first file server and mounts it
// read-only as cellRW/name and read-write as cellRW/.name.
func (c *Cell) mountVolume(ctx context.Context, cellRW, name string) error {
	if err := c.fs[0].CreateVolume(ctx, name, ""); err != nil {
		return errors.Trace(err)
	}
	rw := filepath.Join(cellRW, "."+name)
	for _, m := range []mount{
		{filepath.Join(cellRW, name), name, false},
		{rw, name, true},
	} {
		if err := c.mkmount(ctx, m); err != nil {
			return errors.Trace(err)
		}
	}
	if err := c.client.SetACL(ctx, rw, AnyUser, "rl"); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.replicate(ctx, name))
}

// mkmount creates a mount point; an existing one is left alone.
func (c *Cell) mkmount(ctx context.Context, m mount) error {
	err := c.client.MkMount(ctx, m.dir, m.volume, m.rw, "")
	if afscmd.IsFileExists(err) {
		logger.Debugf("mount point %s already exists", m.dir)
		return nil
	}
	return errors.Trace(err)
}

func (c *Cell) releasePolicy(volume string) afscmd.Policy {
	return afscmd.Policy{
		Retries:   releaseRetries,
		OnFailure: c.client.UnlockOnFailure(volume),
	}
}

// replicate gives a volume a read-only site next to its read-write
// site, unless it has one, and releases it.
func (c *Cell) replicate(ctx context.Context, volume string) error {
	entry, err := c.client.ListVLDB(ctx, volume)
	if err != nil {
		return errors.Trace(err)
	}
	site := entry.RWSite
	if entry.HasROSite(site.Server, site.Partition) {
		logger.Debugf("%s already replicated on %s /vicep%s", volume, site.Server, site.Partition)
	} else {
		if err := c.client.AddSite(ctx, c.releasePolicy(volume), site.Server, site.Partition, volume); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(c.client.Release(ctx, c.releasePolicy(volume), volume))
}
