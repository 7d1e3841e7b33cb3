// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/runner"
)

const (
	// pingRetries is the budget for a new file server to answer.
	pingRetries = 60

	// StatusAttempts and StatusDelay are the usual budget for an
	// instance to change state.
	StatusAttempts = 60
	StatusDelay    = time.Second
)

// Services is part of the ServiceSupervisor interface.
func (h *Host) Services(ctx context.Context) (map[string]afscmd.Instance, error) {
	instances, err := h.client.Status(ctx, h.name)
	if err != nil {
		return nil, errors.Annotatef(err, "listing services of %s", h.name)
	}
	return instances, nil
}

func (h *Host) status(ctx context.Context, name string) (afscmd.Status, bool, error) {
	instances, err := h.Services(ctx)
	if err != nil {
		return "", false, errors.Trace(err)
	}
	instance, ok := instances[name]
	return instance.Status, ok, nil
}

// WaitForStatus is part of the ServiceSupervisor interface. An
// instance in the unknown state is queried again.
func (h *Host) WaitForStatus(ctx context.Context, name string, target afscmd.Status, attempts int, delay time.Duration) error {
	if h.client.DryRun() {
		return nil
	}
	if delay <= 0 {
		delay = StatusDelay
	}
	var last afscmd.Status = "absent"
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			status, ok, err := h.status(ctx, name)
			if err != nil {
				return errors.Trace(err)
			}
			if ok {
				last = status
			}
			if ok && status == target {
				return nil
			}
			return errors.Errorf("%s on %s is %s", name, h.name, last)
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, runner.ErrCommandMissing)
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    h.clock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		return runner.Invariantf("%s on %s did not reach %s within %d attempts; last status %s",
			name, h.name, target, attempts, last)
	}
	if retry.IsRetryStopped(err) {
		return errors.Trace(ctx.Err())
	}
	return errors.Trace(err)
}

// ensureInstance implements the shared create semantics: a running
// instance is left alone, a stopped one is restarted, an absent one is
// created.
func (h *Host) ensureInstance(ctx context.Context, name, instanceType string, commands ...string) error {
	status, ok, err := h.status(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	switch {
	case ok && status == afscmd.StatusRunning:
		logger.Debugf("%s already running on %s", name, h.name)
		return nil
	case ok:
		logger.Infof("restarting %s on %s", name, h.name)
		return errors.Annotatef(h.client.Restart(ctx, h.name, name), "restarting %s on %s", name, h.name)
	}
	logger.Infof("creating %s on %s", name, h.name)
	err = h.client.Create(ctx, h.name, name, instanceType, commands...)
	return errors.Annotatef(err, "creating %s on %s", name, h.name)
}

// CreateDatabase is part of the ServiceSupervisor interface. A
// running database is not restarted to apply new flags.
func (h *Host) CreateDatabase(ctx context.Context, name string) error {
	return errors.Trace(h.ensureInstance(ctx, name, "simple", h.commandLine(name)))
}

// FileServerInstance returns the name of the file server instance,
// "dafs" or "fs".
func (h *Host) FileServerInstance() string {
	if h.dafs {
		return "dafs"
	}
	return "fs"
}

// CreateFileServer is part of the ServiceSupervisor interface. A host
// runs one file server flavour; finding the other one is an error. The
// file and volume servers must answer before it returns.
func (h *Host) CreateFileServer(ctx context.Context) error {
	programs := classicPrograms
	if h.dafs {
		programs = dafsPrograms
	}
	commands := make([]string, len(programs))
	for i, program := range programs {
		commands[i] = h.commandLine(program)
	}
	instance := h.FileServerInstance()
	other := "dafs"
	if h.dafs {
		other = "fs"
	}
	instances, err := h.Services(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if _, ok := instances[other]; ok {
		return runner.Invariantf("%s already has a %s instance; remove it before creating %s",
			h.name, other, instance)
	}
	if err := h.ensureInstance(ctx, instance, instance, commands...); err != nil {
		return errors.Trace(err)
	}
	for _, service := range []string{"fileserver", "volserver"} {
		if !h.RxPing(ctx, service, pingRetries) {
			return errors.Errorf("%s on %s is not answering", service, h.name)
		}
	}
	return nil
}

// Shutdown is part of the ServiceSupervisor interface. Absent and
// stopped instances are left alone.
func (h *Host) Shutdown(ctx context.Context, name string) error {
	status, ok, err := h.status(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok || status == afscmd.StatusShutdown {
		return nil
	}
	logger.Infof("shutting down %s on %s", name, h.name)
	return errors.Annotatef(h.client.Shutdown(ctx, h.name, name, true), "shutting down %s on %s", name, h.name)
}

// ShutdownAll is part of the ServiceSupervisor interface.
func (h *Host) ShutdownAll(ctx context.Context) error {
	instances, err := h.Services(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	running := false
	for _, instance := range instances {
		if instance.Status != afscmd.StatusShutdown {
			running = true
			break
		}
	}
	if !running {
		return nil
	}
	logger.Infof("shutting down all services on %s", h.name)
	return errors.Annotatef(h.client.Shutdown(ctx, h.name, "", true), "shutting down %s", h.name)
}

// Restart is part of the ServiceSupervisor interface. An absent
// instance is not an error.
func (h *Host) Restart(ctx context.Context, name string) error {
	_, ok, err := h.status(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		logger.Warningf("not restarting %s on %s: no such instance", name, h.name)
		return nil
	}
	logger.Infof("restarting %s on %s", name, h.name)
	return errors.Annotatef(h.client.Restart(ctx, h.name, name), "restarting %s on %s", name, h.name)
}

// RxPing is part of the ServiceSupervisor interface. It reports
// whether the service answers a version query within the budget.
func (h *Host) RxPing(ctx context.Context, service string, retries int) bool {
	port, err := afscmd.ServicePort(service)
	if err != nil {
		logger.Errorf("%v", err)
		return false
	}
	policy := afscmd.Policy{Retries: retries}
	if _, err := h.client.RxVersion(ctx, policy, h.name, port); err != nil {
		logger.Debugf("%s on %s did not answer: %v", service, h.name, err)
		return false
	}
	return true
}

// ListUsers is part of the SuperUserAdmin interface.
func (h *Host) ListUsers(ctx context.Context) ([]string, error) {
	users, err := h.client.ListUsers(ctx, h.name)
	return users, errors.Annotatef(err, "listing super-users of %s", h.name)
}

// AddUser is part of the SuperUserAdmin interface.
func (h *Host) AddUser(ctx context.Context, name string) error {
	users, err := h.ListUsers(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if contains(users, name) {
		return nil
	}
	logger.Infof("adding super-user %s on %s", name, h.name)
	return errors.Annotatef(h.client.AddUser(ctx, h.name, name), "adding super-user %s on %s", name, h.name)
}
