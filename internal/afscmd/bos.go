// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd

import (
	"context"
	"regexp"
	"strings"

	"github.com/juju/errors"
)

// CellInfo is the cell configuration a bosserver reports.
type CellInfo struct {
	// Name is the cell name.
	Name string
	// Hosts lists the database servers, in file order.
	Hosts []string
}

// Status is the state of a supervised instance.
type Status string

const (
	StatusRunning  Status = "running"
	StatusShutdown Status = "shutdown"
	StatusUnknown  Status = "unknown"
)

// Instance is a bosserver supervised process group.
type Instance struct {
	Name     string
	Type     string
	Status   Status
	Commands []string
}

var (
	cellNameRE  = regexp.MustCompile(`^Cell name is (\S+)`)
	cellHostRE  = regexp.MustCompile(`^\s+Host \d+ is (\S+)`)
	instanceRE  = regexp.MustCompile(`^Instance (\S+), \(type is (\S+)\)(.*)$`)
	commandRE   = regexp.MustCompile(`^\s+Command \d+ is '(.*)'`)
	superUserRE = regexp.MustCompile(`^SUsers are:(.*)$`)
)

// ParseListHosts parses the output of "bos listhosts".
func ParseListHosts(output string) (CellInfo, error) {
	var info CellInfo
	for _, line := range strings.Split(output, "\n") {
		if m := cellNameRE.FindStringSubmatch(line); m != nil {
			info.Name = m[1]
			continue
		}
		if m := cellHostRE.FindStringSubmatch(line); m != nil {
			info.Hosts = append(info.Hosts, m[1])
		}
	}
	if info.Name == "" {
		return CellInfo{}, errors.Errorf("cannot find cell name in bos listhosts output %q", output)
	}
	return info, nil
}

func instanceStatus(text string) Status {
	switch {
	case strings.Contains(text, "currently running normally"):
		return StatusRunning
	case strings.Contains(text, "currently shutdown"):
		return StatusShutdown
	}
	return StatusUnknown
}

// ParseStatusLong parses the output of "bos status -long".
func ParseStatusLong(output string) map[string]Instance {
	instances := make(map[string]Instance)
	var current *Instance
	flush := func() {
		if current != nil {
			instances[current.Name] = *current
		}
	}
	for _, line := range strings.Split(output, "\n") {
		if m := instanceRE.FindStringSubmatch(line); m != nil {
			flush()
			current = &Instance{
				Name:   m[1],
				Type:   m[2],
				Status: instanceStatus(m[3]),
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := commandRE.FindStringSubmatch(line); m != nil {
			current.Commands = append(current.Commands, m[1])
		}
	}
	flush()
	return instances
}

// ParseListUsers parses the output of "bos listusers".
func ParseListUsers(output string) []string {
	var users []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if m := superUserRE.FindStringSubmatch(line); m != nil {
			inList = true
			users = append(users, strings.Fields(m[1])...)
			continue
		}
		// Long lists continue on indented lines.
		if inList && strings.HasPrefix(line, " ") {
			users = append(users, strings.Fields(line)...)
			continue
		}
		inList = false
	}
	return users
}

// ListHosts returns the cell name and database hosts of server.
func (c *Client) ListHosts(ctx context.Context, server string) (CellInfo, error) {
	out, err := c.query(ctx, "bos", "listhosts", "-server", server)
	if err != nil {
		return CellInfo{}, errors.Trace(err)
	}
	if c.dryRun {
		return CellInfo{}, nil
	}
	return ParseListHosts(out)
}

// Status returns every instance supervised by server's bosserver.
func (c *Client) Status(ctx context.Context, server string) (map[string]Instance, error) {
	out, err := c.query(ctx, "bos", "status", "-server", server, "-long")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseStatusLong(out), nil
}

// Create creates and starts a supervised instance.
func (c *Client) Create(ctx context.Context, server, instance, instanceType string, commands ...string) error {
	args := []string{"create", "-server", server, "-instance", instance, "-type", instanceType, "-cmd"}
	args = append(args, commands...)
	_, err := c.Run(ctx, NoRetry, "bos", args...)
	return errors.Trace(err)
}

// Shutdown stops an instance, or every instance when instance is empty.
func (c *Client) Shutdown(ctx context.Context, server, instance string, wait bool) error {
	args := []string{"shutdown", "-server", server}
	if instance != "" {
		args = append(args, "-instance", instance)
	}
	if wait {
		args = append(args, "-wait")
	}
	_, err := c.Run(ctx, NoRetry, "bos", args...)
	return errors.Trace(err)
}

// Restart restarts an instance.
func (c *Client) Restart(ctx context.Context, server, instance string) error {
	_, err := c.Run(ctx, NoRetry, "bos", "restart", "-server", server, "-instance", instance)
	return errors.Trace(err)
}

// SetCellName sets the cell name of server.
func (c *Client) SetCellName(ctx context.Context, server, name string) error {
	_, err := c.Run(ctx, NoRetry, "bos", "setcellname", "-server", server, "-name", name)
	return errors.Trace(err)
}

// AddHost adds a database host to server's cell member list.
func (c *Client) AddHost(ctx context.Context, server, host string) error {
	_, err := c.Run(ctx, NoRetry, "bos", "addhost", "-server", server, "-host", host)
	return errors.Trace(err)
}

// RemoveHost removes a database host from server's member list.
func (c *Client) RemoveHost(ctx context.Context, server, host string) error {
	_, err := c.Run(ctx, NoRetry, "bos", "removehost", "-server", server, "-host", host)
	return errors.Trace(err)
}

// ListUsers returns server's super-user list.
func (c *Client) ListUsers(ctx context.Context, server string) ([]string, error) {
	out, err := c.query(ctx, "bos", "listusers", "-server", server)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseListUsers(out), nil
}

// AddUser adds a name to server's super-user list.
func (c *Client) AddUser(ctx context.Context, server, user string) error {
	_, err := c.Run(ctx, NoRetry, "bos", "adduser", "-server", server, "-user", user)
	return errors.Trace(err)
}
