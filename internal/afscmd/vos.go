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

// Site is a volume location: a server and a partition letter.
type Site struct {
	Server    string
	Partition string
}

// VolumeEntry is a volume location database entry.
type VolumeEntry struct {
	Name string

	// RW, RO and BK are the variant ids; zero when absent.
	RW uint32
	RO uint32
	BK uint32

	// RWSite is the single read-write location.
	RWSite Site
	// ROSites are the read-only replica locations.
	ROSites []Site

	Locked        bool
	LockOperation string
}

// HasROSite reports whether the entry has a read-only site on server
// and partition.
func (e VolumeEntry) HasROSite(server, partition string) bool {
	for _, site := range e.ROSites {
		if site.Server == server && site.Partition == partition {
			return true
		}
	}
	return false
}

// VolumeHeader is one line of "vos listvol".
type VolumeHeader struct {
	Name   string
	ID     uint32
	Type   string
	SizeKB uint64
	Status string
}

var (
	vldbNameRE   = regexp.MustCompile(`^(\S+)\s*$`)
	vldbIDRE     = regexp.MustCompile(`(RWrite|ROnly|Backup):\s+(\d+)`)
	vldbSiteRE   = regexp.MustCompile(`^\s+server (\S+) partition /vicep([a-z]{1,2}) (RW|RO|BK) Site`)
	vldbLockRE   = regexp.MustCompile(`^\s*Volume is currently LOCKED`)
	vldbLockOpRE = regexp.MustCompile(`^\s*Volume is locked for a (\S+) operation`)
	listVolRE    = regexp.MustCompile(`^(\S+)\s+(\d+)\s+(RW|RO|BK)\s+(\d+) K\s+(\S+)`)
	partitionRE  = regexp.MustCompile(`/vicep([a-z]{1,2})\b`)
)

// PartitionLetter normalises "/vicepa", "vicepa" and "a" to "a".
func PartitionLetter(partition string) string {
	partition = strings.TrimPrefix(partition, "/")
	return strings.TrimPrefix(partition, "vicep")
}

// ParseListVLDB parses the entries printed by "vos listvldb".
func ParseListVLDB(output string) []VolumeEntry {
	var entries []VolumeEntry
	var current *VolumeEntry
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "VLDB entries") || strings.HasPrefix(line, "Total entries") {
			continue
		}
		if m := vldbNameRE.FindStringSubmatch(line); m != nil {
			entries = append(entries, VolumeEntry{Name: m[1]})
			current = &entries[len(entries)-1]
			continue
		}
		if current == nil {
			continue
		}
		if m := vldbSiteRE.FindStringSubmatch(line); m != nil {
			site := Site{Server: m[1], Partition: m[2]}
			switch m[3] {
			case "RW":
				current.RWSite = site
			case "RO":
				current.ROSites = append(current.ROSites, site)
			}
			continue
		}
		if vldbLockRE.MatchString(line) {
			current.Locked = true
			continue
		}
		if m := vldbLockOpRE.FindStringSubmatch(line); m != nil {
			current.Locked = true
			current.LockOperation = m[1]
			continue
		}
		for _, m := range vldbIDRE.FindAllStringSubmatch(line, -1) {
			id, err := strconv.ParseUint(m[2], 10, 32)
			if err != nil {
				continue
			}
			switch m[1] {
			case "RWrite":
				current.RW = uint32(id)
			case "ROnly":
				current.RO = uint32(id)
			case "Backup":
				current.BK = uint32(id)
			}
		}
	}
	return entries
}

// ParseListVol parses the volume lines of "vos listvol".
func ParseListVol(output string) []VolumeHeader {
	var headers []VolumeHeader
	for _, line := range strings.Split(output, "\n") {
		m := listVolRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(m[4], 10, 64)
		if err != nil {
			continue
		}
		headers = append(headers, VolumeHeader{
			Name:   m[1],
			ID:     uint32(id),
			Type:   m[3],
			SizeKB: size,
			Status: m[5],
		})
	}
	return headers
}

// ParseListPart parses the output of "vos listpart".
func ParseListPart(output string) []string {
	var partitions []string
	for _, m := range partitionRE.FindAllStringSubmatch(output, -1) {
		partitions = append(partitions, m[1])
	}
	return partitions
}

// ListVLDB returns the VLDB entry for a volume. An absent volume is
// reported with runner.ErrNoSuchEntry.
func (c *Client) ListVLDB(ctx context.Context, name string) (VolumeEntry, error) {
	out, err := c.query(ctx, "vos", "listvldb", "-name", name)
	if err != nil {
		return VolumeEntry{}, errors.Trace(err)
	}
	for _, entry := range ParseListVLDB(out) {
		if entry.Name == name {
			return entry, nil
		}
	}
	if c.dryRun {
		return VolumeEntry{Name: name}, nil
	}
	return VolumeEntry{}, errors.Errorf("volume %q missing from vos listvldb output", name)
}

// ListVLDBAll returns every VLDB entry.
func (c *Client) ListVLDBAll(ctx context.Context, policy Policy) ([]VolumeEntry, error) {
	out, err := c.Run(ctx, policy, "vos", "listvldb")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseListVLDB(out), nil
}

// CreateVolume creates a read-write volume.
func (c *Client) CreateVolume(ctx context.Context, policy Policy, server, partition, name string) error {
	_, err := c.Run(ctx, policy, "vos", "create", "-server", server, "-partition", PartitionLetter(partition), "-name", name)
	return errors.Trace(err)
}

// ListVol returns the volume headers on a server partition.
func (c *Client) ListVol(ctx context.Context, server, partition string) ([]VolumeHeader, error) {
	out, err := c.query(ctx, "vos", "listvol", "-server", server, "-partition", PartitionLetter(partition))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseListVol(out), nil
}

// ListPart returns the partition letters of a file server.
func (c *Client) ListPart(ctx context.Context, server string) ([]string, error) {
	out, err := c.query(ctx, "vos", "listpart", "-server", server)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseListPart(out), nil
}

// AddSite adds a read-only site for a volume.
func (c *Client) AddSite(ctx context.Context, policy Policy, server, partition, name string) error {
	_, err := c.Run(ctx, policy, "vos", "addsite", "-server", server, "-partition", PartitionLetter(partition), "-id", name)
	return errors.Trace(err)
}

// Release propagates a volume's read-write content to its replicas.
func (c *Client) Release(ctx context.Context, policy Policy, name string) error {
	_, err := c.Run(ctx, policy, "vos", "release", "-id", name)
	return errors.Trace(err)
}

// RemoveVolume removes a volume from a site.
func (c *Client) RemoveVolume(ctx context.Context, server, partition, name string) error {
	_, err := c.Run(ctx, NoRetry, "vos", "remove", "-server", server, "-partition", PartitionLetter(partition), "-id", name)
	return errors.Trace(err)
}

// Unlock releases a VLDB entry lock.
func (c *Client) Unlock(ctx context.Context, name string) error {
	_, err := c.Run(ctx, NoRetry, "vos", "unlock", "-id", name)
	return errors.Trace(err)
}

// UnlockOnFailure is a retry cleanup that unlocks a volume. The
// underlying protocol can leave a volume locked after a quorum blip.
func (c *Client) UnlockOnFailure(name string) func(context.Context) {
	return func(ctx context.Context) {
		if err := c.Unlock(ctx, name); err != nil {
			logger.Debugf("ignoring unlock failure for %s: %v", name, err)
		}
	}
}
