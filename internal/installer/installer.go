// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package installer undoes what the external installer put on a
// host. Each step is a shell script run through the dispatcher and is
// safe to repeat: missing state is success.
package installer

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kballard/go-shellquote"

	"github.com/openafs-contrib/afscell/internal/remote"
	"github.com/openafs-contrib/afscell/internal/runner"
	"github.com/openafs-contrib/afscell/paths"
)

var logger = loggo.GetLogger("afscell.installer")

// Installer is the teardown side of the installer collaborator.
type Installer interface {
	// StopClient unmounts the cache manager and unloads its module.
	StopClient(ctx context.Context, host string) error
	// StopServers stops the bosserver and every server it supervises.
	StopServers(ctx context.Context, host string) error
	// Remove deletes installed files. With purge it also deletes the
	// configuration, databases, volume data and client cache.
	Remove(ctx context.Context, host string, purge bool) error
}

// ScriptInstaller implements Installer with shell scripts.
type ScriptInstaller struct {
	exec  remote.Executor
	paths paths.Collection
	sudo  bool
}

var _ Installer = (*ScriptInstaller)(nil)

// Config holds the settings of a ScriptInstaller.
type Config struct {
	Executor remote.Executor
	Paths    paths.Collection
	Sudo     bool
}

// NewScriptInstaller returns a ScriptInstaller.
func NewScriptInstaller(config Config) *ScriptInstaller {
	return &ScriptInstaller{
		exec:  config.Executor,
		paths: config.Paths,
		sudo:  config.Sudo,
	}
}

const stopClientScript = `
mount=%[1]s
if command -v systemctl >/dev/null 2>&1 && systemctl is-active -q openafs-client; then
    systemctl stop openafs-client
fi
if grep -qs " $mount afs " /proc/mounts; then
    umount "$mount"
fi
if [ -x %[2]s ]; then
    %[2]s -shutdown >/dev/null 2>&1 || true
fi
for module in openafs libafs; do
    if grep -qs "^$module " /proc/modules; then
        rmmod "$module"
    fi
done
exit 0
`

const stopServersScript = `
if command -v systemctl >/dev/null 2>&1 && systemctl is-active -q openafs-server; then
    systemctl stop openafs-server
fi
pgrep -x bosserver >/dev/null || exit 0
%[1]s shutdown -server localhost -localauth -wait >/dev/null 2>&1 || true
pkill -TERM -x bosserver
for i in $(seq 1 30); do
    pgrep -x bosserver >/dev/null || exit 0
    sleep 1
done
echo "bosserver did not stop, killing it"
pkill -KILL -x bosserver
exit 0
`

const removeScript = `
for path in %[1]s; do
    rm -rf "$path"
done
`

const purgeScript = `
for path in %[1]s; do
    rm -rf "$path"
done
for part in /vicep*; do
    [ -d "$part" ] || continue
    rm -rf "$part"/AFSIDat "$part"/V*.vol "$part"/Lock
done
if [ -d %[2]s ]; then
    find %[2]s -mindepth 1 -delete
fi
`

func (i *ScriptInstaller) run(ctx context.Context, host, step, script string) error {
	logger.Tracef("%s script for %s: %s", step, host, script)
	argv := []string{"/bin/sh", "-c", strings.TrimSpace(script)}
	_, err := i.exec.Execute(ctx, host, argv, remote.Options{
		Options: runner.Options{Prefix: host + ": "},
		Sudo:    i.sudo,
	})
	return errors.Annotatef(err, "%s on %s", step, host)
}

// StopClient is part of the Installer interface.
func (i *ScriptInstaller) StopClient(ctx context.Context, host string) error {
	afsd := shellquote.Join(clientProgram(i.paths, "afsd"))
	script := fmt.Sprintf(stopClientScript, shellquote.Join(i.paths.AFSMount), afsd)
	return i.run(ctx, host, "stopping cache manager", script)
}

// StopServers is part of the Installer interface.
func (i *ScriptInstaller) StopServers(ctx context.Context, host string) error {
	bos := shellquote.Join(i.paths.ServerProgram("bos"))
	return i.run(ctx, host, "stopping servers", fmt.Sprintf(stopServersScript, bos))
}

// Remove is part of the Installer interface.
func (i *ScriptInstaller) Remove(ctx context.Context, host string, purge bool) error {
	if installed := installedPaths(i.paths); len(installed) > 0 {
		script := fmt.Sprintf(removeScript, shellquote.Join(installed...))
		if err := i.run(ctx, host, "removing files", script); err != nil {
			return errors.Trace(err)
		}
	} else {
		logger.Debugf("%s: binaries are owned by the package manager, not removing them", host)
	}
	if !purge {
		return nil
	}
	state := []string{i.paths.ServerEtc, i.paths.ServerLocal, i.paths.ServerDB, i.paths.ServerLogs}
	script := fmt.Sprintf(purgeScript, shellquote.Join(state...), shellquote.Join(i.paths.ClientCache))
	return i.run(ctx, host, "purging state", script)
}

// clientProgram returns the path of a cache manager program.
func clientProgram(c paths.Collection, name string) string {
	if c == paths.Transarc {
		return c.ClientEtc + "/" + name
	}
	return "/usr/sbin/" + name
}

// installedPaths returns what a Transarc install copied into place.
// Packaged installs are left to the package manager.
func installedPaths(c paths.Collection) []string {
	if c != paths.Transarc {
		return nil
	}
	return []string{
		c.ServerBin,
		c.ClientEtc + "/afsd",
		c.ClientEtc + "/C",
		"/usr/afsws",
	}
}
