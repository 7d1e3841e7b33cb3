// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Examine is the volume information "fs examine" reports for a path.
type Examine struct {
	Path       string
	FID        string
	VolumeID   uint32
	VolumeName string
}

// CacheParms is the cache usage "fs getcacheparms" reports.
type CacheParms struct {
	UsedKB uint64
	SizeKB uint64
}

var (
	wscellRE      = regexp.MustCompile(`^This workstation belongs to cell '([^']+)'`)
	examineFileRE = regexp.MustCompile(`^File (\S+) \(([\d.]+)\) contained in volume (\d+)`)
	examineVolRE  = regexp.MustCompile(`^Volume status for vid = (\d+) named (\S+)`)
	cacheParmsRE  = regexp.MustCompile(`AFS using (\d+) of the cache's available (\d+) 1K byte blocks`)
)

// ParseWSCell parses the output of "fs wscell".
func ParseWSCell(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if m := wscellRE.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", errors.Errorf("cannot parse fs wscell output %q", output)
}

// ParseExamine parses the output of "fs examine".
func ParseExamine(output string) (Examine, error) {
	var result Examine
	found := false
	for _, line := range strings.Split(output, "\n") {
		if m := examineFileRE.FindStringSubmatch(line); m != nil {
			result.Path = m[1]
			result.FID = m[2]
			found = true
			continue
		}
		if m := examineVolRE.FindStringSubmatch(line); m != nil {
			id, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				return Examine{}, errors.Trace(err)
			}
			result.VolumeID = uint32(id)
			result.VolumeName = m[2]
			found = true
		}
	}
	if !found {
		return Examine{}, errors.Errorf("cannot parse fs examine output %q", output)
	}
	return result, nil
}

// ParseCacheParms parses the output of "fs getcacheparms".
func ParseCacheParms(output string) (CacheParms, error) {
	m := cacheParmsRE.FindStringSubmatch(output)
	if m == nil {
		return CacheParms{}, errors.Errorf("cannot parse fs getcacheparms output %q", output)
	}
	used, _ := strconv.ParseUint(m[1], 10, 64)
	size, _ := strconv.ParseUint(m[2], 10, 64)
	return CacheParms{UsedKB: used, SizeKB: size}, nil
}

// MkMount creates a mount point for a volume. An empty cell means the
// workstation cell.
func (c *Client) MkMount(ctx context.Context, dir, volume string, rw bool, cell string) error {
	args := []string{"mkmount", "-dir", dir, "-vol", volume}
	if cell != "" {
		args = append(args, "-cell", cell)
	}
	if rw {
		args = append(args, "-rw")
	}
	_, err := c.Run(ctx, NoRetry, "fs", args...)
	return errors.Trace(err)
}

// RmMount removes a mount point.
func (c *Client) RmMount(ctx context.Context, dir string) error {
	_, err := c.Run(ctx, NoRetry, "fs", "rmmount", "-dir", dir)
	return errors.Trace(err)
}

// SetACL sets the rights of name on dir.
func (c *Client) SetACL(ctx context.Context, dir, name, rights string) error {
	_, err := c.Run(ctx, NoRetry, "fs", "setacl", "-dir", dir, "-acl", name, rights)
	return errors.Trace(err)
}

// ListACL returns the ACL of path.
func (c *Client) ListACL(ctx context.Context, path string) (ACL, error) {
	out, err := c.query(ctx, "fs", "listacl", "-path", path)
	if err != nil {
		return ACL{}, errors.Trace(err)
	}
	return ParseListACL(out)
}

// Examine returns the volume information for path.
func (c *Client) Examine(ctx context.Context, path string) (Examine, error) {
	out, err := c.query(ctx, "fs", "examine", "-path", path)
	if err != nil {
		return Examine{}, errors.Trace(err)
	}
	return ParseExamine(out)
}

// CheckVolumes forgets cached volume name to id mappings.
func (c *Client) CheckVolumes(ctx context.Context) error {
	_, err := c.Run(ctx, NoRetry, "fs", "checkvolumes")
	return errors.Trace(err)
}

// WSCell returns the cache manager's workstation cell.
func (c *Client) WSCell(ctx context.Context) (string, error) {
	out, err := c.query(ctx, "fs", "wscell")
	if err != nil {
		return "", errors.Trace(err)
	}
	return ParseWSCell(out)
}

// GetCacheParms returns the cache usage.
func (c *Client) GetCacheParms(ctx context.Context) (CacheParms, error) {
	out, err := c.query(ctx, "fs", "getcacheparms")
	if err != nil {
		return CacheParms{}, errors.Trace(err)
	}
	return ParseCacheParms(out)
}
