// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package paths

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/juju/errors"
)

// Collection couples together all the paths an OpenAFS installation
// uses into a struct. Instances should be passed by value.
type Collection struct {
	// ServerBin is the directory holding the server programs
	// (bosserver, ptserver, vlserver, fileserver...).
	ServerBin string

	// ServerEtc is the server configuration directory holding
	// ThisCell, CellServDB, UserList and the service keys.
	ServerEtc string

	// ServerLocal is the bosserver's local state directory
	// (BosConfig, sysid, salvage lock files).
	ServerLocal string

	// ServerDB is where the ubik databases (prdb, vldb) live.
	ServerDB string

	// ServerLogs is the directory for server log files.
	ServerLogs string

	// ClientEtc is the cache manager's configuration directory.
	ClientEtc string

	// ClientCache is the cache manager's disk cache.
	ClientCache string

	// AFSMount is the default mount point of the cache manager.
	AFSMount string
}

var (
	// Transarc is the traditional /usr/afs and /usr/vice layout.
	Transarc = Collection{
		ServerBin:   "/usr/afs/bin",
		ServerEtc:   "/usr/afs/etc",
		ServerLocal: "/usr/afs/local",
		ServerDB:    "/usr/afs/db",
		ServerLogs:  "/usr/afs/logs",
		ClientEtc:   "/usr/vice/etc",
		ClientCache: "/usr/vice/cache",
		AFSMount:    "/afs",
	}
	// Modern is the layout used by the distribution packages.
	Modern = Collection{
		ServerBin:   "/usr/libexec/openafs",
		ServerEtc:   "/etc/openafs/server",
		ServerLocal: "/var/lib/openafs/local",
		ServerDB:    "/var/lib/openafs/db",
		ServerLogs:  "/var/log/openafs",
		ClientEtc:   "/etc/openafs",
		ClientCache: "/var/cache/openafs",
		AFSMount:    "/afs",
	}
)

// ForLayout returns the collection for the named layout.
func ForLayout(name string) (Collection, error) {
	switch name {
	case "", "transarc":
		return Transarc, nil
	case "modern", "rpm", "deb":
		return Modern, nil
	}
	return Collection{}, errors.NotValidf("installation layout %q", name)
}

// ServerProgram returns the absolute path of a server program.
func (c Collection) ServerProgram(name string) string {
	return filepath.Join(c.ServerBin, name)
}

// Registry maps external command names to resolved absolute paths.
// It is filled once at startup and read-only afterwards.
type Registry struct {
	commands   map[string]string
	searchDirs []string
	lookPath   func(string) (string, error)
}

// NewRegistry returns a registry that resolves unregistered names
// against $PATH plus the given extra directories.
func NewRegistry(searchDirs ...string) *Registry {
	return &Registry{
		commands:   make(map[string]string),
		searchDirs: searchDirs,
		lookPath:   exec.LookPath,
	}
}

// Set registers an explicit path for a command name.
func (r *Registry) Set(name, path string) {
	r.commands[name] = path
}

// Lookup returns the registered path for name, if any.
func (r *Registry) Lookup(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	path, ok := r.commands[name]
	return path, ok
}

// Resolve returns an absolute path for name. Absolute names are
// returned unchanged; registered names win over the search path.
// An unresolvable name is reported with errors.NotFound.
func (r *Registry) Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	if path, ok := r.Lookup(name); ok {
		return path, nil
	}
	lookPath := exec.LookPath
	var searchDirs []string
	if r != nil {
		lookPath = r.lookPath
		searchDirs = r.searchDirs
	}
	if path, err := lookPath(name); err == nil {
		return path, nil
	}
	for _, dir := range searchDirs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return path, nil
		}
	}
	return "", errors.NotFoundf("command %q", name)
}

// SearchDirs returns the default extra search directories for a layout:
// the server binaries plus the sbin directories that are often missing
// from a non-root $PATH.
func SearchDirs(c Collection) []string {
	return []string{c.ServerBin, "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin"}
}
