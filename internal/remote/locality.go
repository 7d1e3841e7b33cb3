// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package remote

import (
	"net"
	"os"
	"strings"
	"sync"

	"github.com/juju/collections/set"
)

// Locality answers "is this host name this machine?". A host is local
// when it is the literal "localhost", the local hostname, or the
// local fully qualified domain name.
type Locality struct {
	once     sync.Once
	names    set.Strings
	hostname string
	fqdn     string

	osHostname    func() (string, error)
	netLookupHost func(string) ([]string, error)
	netLookupAddr func(string) ([]string, error)
}

// NewLocality returns a Locality that inspects the running machine.
func NewLocality() *Locality {
	return &Locality{
		osHostname:    os.Hostname,
		netLookupHost: net.LookupHost,
		netLookupAddr: net.LookupAddr,
	}
}

var defaultLocality = NewLocality()

// IsLocal reports whether host names this machine. Every locality
// decision in afscell goes through here.
func IsLocal(host string) bool {
	return defaultLocality.IsLocal(host)
}

// LocalHostname returns the canonical name of this machine.
func LocalHostname() string {
	return defaultLocality.Hostname()
}

var geteuid = os.Geteuid

// Privileged reports whether commands run as root, either through
// sudo or because afscell itself runs as root. Remote commands log in
// as the same user, so the answer holds for every host.
func Privileged(sudo bool) bool {
	return sudo || geteuid() == 0
}

// Canonical resolves the "this machine" alias to the local name and
// returns every other host name unchanged.
func Canonical(host string) string {
	return defaultLocality.Canonical(host)
}

func (l *Locality) init() {
	l.once.Do(func() {
		l.names = set.NewStrings("localhost")
		hostname, err := l.osHostname()
		if err != nil || hostname == "" {
			logger.Warningf("cannot determine local hostname: %v", err)
			l.hostname = "localhost"
			return
		}
		l.hostname = hostname
		l.names.Add(hostname)
		l.fqdn = l.lookupFQDN(hostname)
		if l.fqdn != "" {
			l.names.Add(l.fqdn)
		}
	})
}

// lookupFQDN returns the first name containing a dot among the
// reverse lookups of the hostname's addresses.
func (l *Locality) lookupFQDN(hostname string) string {
	if strings.Contains(hostname, ".") {
		return hostname
	}
	addrs, err := l.netLookupHost(hostname)
	if err != nil {
		logger.Debugf("cannot resolve %q: %v", hostname, err)
		return ""
	}
	for _, addr := range addrs {
		names, err := l.netLookupAddr(addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if strings.Contains(name, ".") {
				return name
			}
		}
	}
	return ""
}

// IsLocal reports whether host names this machine.
func (l *Locality) IsLocal(host string) bool {
	l.init()
	return l.names.Contains(strings.TrimSuffix(host, "."))
}

// Hostname returns the local FQDN when known, else the hostname.
func (l *Locality) Hostname() string {
	l.init()
	if l.fqdn != "" {
		return l.fqdn
	}
	return l.hostname
}

// Canonical maps "localhost" to Hostname.
func (l *Locality) Canonical(host string) string {
	if host == "localhost" {
		return l.Hostname()
	}
	return host
}
