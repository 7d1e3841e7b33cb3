// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"context"
	"time"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

// CellConfigurer edits a host's view of the cell.
type CellConfigurer interface {
	// CellInfo returns the cell name and database servers the host
	// is configured with.
	CellInfo(ctx context.Context) (afscmd.CellInfo, error)

	// SetCellName sets the cell name.
	SetCellName(ctx context.Context, name string) error

	// SetCellHosts makes the database server list equal hosts.
	SetCellHosts(ctx context.Context, hosts []string) error
}

// ServiceSupervisor manages the server processes of a host.
type ServiceSupervisor interface {
	Services(ctx context.Context) (map[string]afscmd.Instance, error)
	WaitForStatus(ctx context.Context, name string, target afscmd.Status, attempts int, delay time.Duration) error
	CreateDatabase(ctx context.Context, name string) error
	CreateFileServer(ctx context.Context) error
	FileServerInstance() string
	Shutdown(ctx context.Context, name string) error
	ShutdownAll(ctx context.Context) error
	Restart(ctx context.Context, name string) error
	RxPing(ctx context.Context, service string, retries int) bool
}

// SuperUserAdmin manages the super-user list.
type SuperUserAdmin interface {
	ListUsers(ctx context.Context) ([]string, error)
	AddUser(ctx context.Context, name string) error
}

// DatabaseServer reports on and initialises the replicated databases.
type DatabaseServer interface {
	IsRecoveredSyncSite(ctx context.Context, service string) (bool, error)
	TouchDatabases(ctx context.Context, retries int) error
	CreateUser(ctx context.Context, name string) error
	AddToGroup(ctx context.Context, user, group string) error
}

// FileServer manages volumes served by a host.
type FileServer interface {
	CreateVolume(ctx context.Context, name, partition string) error
	VolumeExists(ctx context.Context, name string) (bool, error)
	RemoveVolume(ctx context.Context, name string) error
	VolumeShouldNotExist(ctx context.Context, name string) error
	ListPartitions(ctx context.Context) ([]string, error)
}

// KeyInstaller installs service keys.
type KeyInstaller interface {
	DetectKeyLayout(ctx context.Context, enctype int) (KeyLayout, error)
	SetKey(ctx context.Context, key ServiceKey) error
}

// Agent is everything the orchestrator asks of a host.
type Agent interface {
	Name() string
	CellConfigurer
	ServiceSupervisor
	SuperUserAdmin
	DatabaseServer
	FileServer
	KeyInstaller
}

var _ Agent = (*Host)(nil)
