// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell

import (
	"context"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

// Volumes lists every entry of the volume location database.
func (c *Cell) Volumes(ctx context.Context) ([]afscmd.VolumeEntry, error) {
	entries, err := c.client.ListVLDBAll(ctx, afscmd.NoRetry)
	return entries, errors.Annotate(err, "listing volumes")
}

// UnmountVolume undoes what MountRoot did for an extra volume: both
// mount points go, then every site of the volume, and root.cell is
// released so the read-only path stops showing it. An absent volume
// is not an error.
func (c *Cell) UnmountVolume(ctx context.Context, name string) error {
	if name == "root.afs" || name == "root.cell" {
		return errors.NotValidf("removing root volume %s", name)
	}
	afs, err := c.MountPoint()
	if err != nil {
		return errors.Trace(err)
	}
	cellRW := c.layout(afs).rootCell
	for _, dir := range []string{filepath.Join(cellRW, name), filepath.Join(cellRW, "."+name)} {
		if err := c.client.RmMount(ctx, dir); err != nil {
			logger.Debugf("ignoring rmmount failure for %s: %v", dir, err)
		}
	}
	fs := c.fs[0]
	if err := fs.RemoveVolume(ctx, name); err != nil {
		return errors.Trace(err)
	}
	if !c.client.DryRun() {
		if err := fs.VolumeShouldNotExist(ctx, name); err != nil {
			return errors.Trace(err)
		}
	}
	if err := c.client.Release(ctx, c.releasePolicy("root.cell"), "root.cell"); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.client.CheckVolumes(ctx))
}

// MountCheck is the observed state of one root mount point.
type MountCheck struct {
	Path string
	// Want is the volume the mount point should reach.
	Want string
	// Got is the volume fs examine reports, empty when the path
	// cannot be examined.
	Got string
	OK  bool
}

// CheckRoot examines the root mount points and the anonymous rights
// on the two root directories.
func (c *Cell) CheckRoot(ctx context.Context) ([]MountCheck, error) {
	afs, err := c.MountPoint()
	if err != nil {
		return nil, errors.Trace(err)
	}
	layout := c.layout(afs)
	var checks []MountCheck
	for _, m := range layout.mounts {
		want := m.volume
		if !m.rw {
			want += ".readonly"
		}
		check := MountCheck{Path: m.dir, Want: want}
		examined, err := c.client.Examine(ctx, m.dir)
		if err != nil {
			logger.Warningf("cannot examine %s: %v", m.dir, err)
		} else {
			check.Got = examined.VolumeName
			check.OK = examined.VolumeName == want
		}
		checks = append(checks, check)
	}
	for _, dir := range []string{layout.rootAFS, layout.rootCell} {
		acl, err := c.client.ListACL(ctx, dir)
		if err != nil {
			return checks, errors.Annotatef(err, "reading access list of %s", dir)
		}
		if !acl.Contains(AnyUser, "rl") {
			return checks, errors.Errorf("%s does not grant %s read and list", dir, AnyUser)
		}
	}
	return checks, nil
}

// Logout discards the local tokens.
func (c *Cell) Logout(ctx context.Context) error {
	return errors.Annotate(c.client.Unlog(ctx), "discarding tokens")
}

// Tokens reports the tokens held locally.
func (c *Cell) Tokens(ctx context.Context) (string, error) {
	out, err := c.client.Tokens(ctx)
	return out, errors.Annotate(err, "listing tokens")
}
