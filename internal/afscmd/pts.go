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

// PTSEntry is a protection database entry.
type PTSEntry struct {
	Name    string
	ID      int
	Owner   int
	Creator int
}

var (
	ptsEntryRE      = regexp.MustCompile(`^(\S+)\s+(-?\d+)\s+(-?\d+)\s+(-?\d+)\s*$`)
	ptsMembersHdrRE = regexp.MustCompile(`^Members of \S+ \(id: -?\d+\) are:`)
)

// ParseListEntries parses the output of "pts listentries".
func ParseListEntries(output string) []PTSEntry {
	var entries []PTSEntry
	for _, line := range strings.Split(output, "\n") {
		m := ptsEntryRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[2])
		owner, _ := strconv.Atoi(m[3])
		creator, _ := strconv.Atoi(m[4])
		entries = append(entries, PTSEntry{Name: m[1], ID: id, Owner: owner, Creator: creator})
	}
	return entries
}

// ParseMembership parses the output of "pts membership".
func ParseMembership(output string) []string {
	var members []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if ptsMembersHdrRE.MatchString(line) || strings.HasPrefix(line, "Groups ") {
			inList = true
			continue
		}
		if inList && strings.HasPrefix(line, " ") {
			if name := strings.TrimSpace(line); name != "" {
				members = append(members, name)
			}
		}
	}
	return members
}

// CreateUser creates a user in the protection database.
func (c *Client) CreateUser(ctx context.Context, name string) error {
	_, err := c.Run(ctx, NoRetry, "pts", "createuser", "-name", name)
	return errors.Trace(err)
}

// AddToGroup adds a user to a group.
func (c *Client) AddToGroup(ctx context.Context, user, group string) error {
	_, err := c.Run(ctx, NoRetry, "pts", "adduser", "-user", user, "-group", group)
	return errors.Trace(err)
}

// ListEntries returns the user entries of the protection database.
func (c *Client) ListEntries(ctx context.Context, policy Policy) ([]PTSEntry, error) {
	out, err := c.Run(ctx, policy, "pts", "listentries", "-users")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseListEntries(out), nil
}

// Membership returns the members of a group, or the groups of a user.
func (c *Client) Membership(ctx context.Context, name string) ([]string, error) {
	out, err := c.query(ctx, "pts", "membership", "-nameorid", name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseMembership(out), nil
}
