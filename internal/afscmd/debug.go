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

// Well known service ports.
const (
	PortFileServer = 7000
	PortPTServer   = 7002
	PortVLServer   = 7003
	PortVolServer  = 7005
	PortBosServer  = 7007
)

var servicePorts = map[string]int{
	"fileserver": PortFileServer,
	"fs":         PortFileServer,
	"ptserver":   PortPTServer,
	"vlserver":   PortVLServer,
	"volserver":  PortVolServer,
	"bosserver":  PortBosServer,
}

// ServicePort returns the port of a named service.
func ServicePort(service string) (int, error) {
	port, ok := servicePorts[service]
	if !ok {
		return 0, errors.NotFoundf("port for service %q", service)
	}
	return port, nil
}

// UbikStatus is what "udebug" reports about one database server.
type UbikStatus struct {
	// SyncSite is true when the server claims to be the sync site.
	SyncSite bool
	// RecoveryState is the hex recovery state of a sync site.
	RecoveryState string
	// ClockWarning is true when udebug warns the clock may be bad.
	ClockWarning bool
	// DBVersion is the local database version.
	DBVersion string
}

// goodRecoveryStates are the recovery states of a sync site that has
// fully recovered the database.
var goodRecoveryStates = map[string]bool{
	"1f": true,
	"f":  true,
}

// Recovered reports whether the server is a fully recovered sync site.
// A reply carrying a clock warning is never trusted.
func (s UbikStatus) Recovered() bool {
	return s.SyncSite && !s.ClockWarning && goodRecoveryStates[s.RecoveryState]
}

var (
	recoveryStateRE = regexp.MustCompile(`^Recovery state (\S+)`)
	dbVersionRE     = regexp.MustCompile(`^Local db version is (\S+)`)
	rxVersionRE     = regexp.MustCompile(`^AFS version:\s*(.*)$`)
)

// ParseUdebug parses the output of "udebug".
func ParseUdebug(output string) UbikStatus {
	var status UbikStatus
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "I am sync site"):
			status.SyncSite = true
		case strings.Contains(line, "clock may be bad"):
			status.ClockWarning = true
		}
		if m := recoveryStateRE.FindStringSubmatch(line); m != nil {
			status.RecoveryState = m[1]
		}
		if m := dbVersionRE.FindStringSubmatch(line); m != nil {
			status.DBVersion = m[1]
		}
	}
	return status
}

// ParseRxVersion parses the output of "rxdebug -version".
func ParseRxVersion(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if m := rxVersionRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSpace(m[1]), nil
		}
	}
	return "", errors.Errorf("cannot parse rxdebug output %q", output)
}

// Udebug queries the ubik state of the database server on server:port.
func (c *Client) Udebug(ctx context.Context, server string, port int) (UbikStatus, error) {
	out, err := c.query(ctx, "udebug", "-server", server, "-port", strconv.Itoa(port))
	if err != nil {
		return UbikStatus{}, errors.Trace(err)
	}
	return ParseUdebug(out), nil
}

// RxVersion asks the service on server:port for its version string.
func (c *Client) RxVersion(ctx context.Context, policy Policy, server string, port int) (string, error) {
	out, err := c.run(ctx, invocation{
		name:   "rxdebug",
		args:   []string{"-server", server, "-port", strconv.Itoa(port), "-version"},
		policy: policy,
		quiet:  true,
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	if c.dryRun {
		return "", nil
	}
	return ParseRxVersion(out)
}
