// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/cell"
	"github.com/openafs-contrib/afscell/internal/config"
	"github.com/openafs-contrib/afscell/internal/host"
	"github.com/openafs-contrib/afscell/internal/installer"
	"github.com/openafs-contrib/afscell/internal/remote"
	"github.com/openafs-contrib/afscell/internal/runner"
	"github.com/openafs-contrib/afscell/paths"
)

// Environment is everything a command works with, built once from the
// configuration.
type Environment struct {
	Config *config.Config
	Cell   *cell.Cell
	Stdout io.Writer

	client *afscmd.Client
	layout paths.Collection
	agents map[string]host.Agent
}

// EnvironmentOptions modify NewEnvironment.
type EnvironmentOptions struct {
	DryRun bool
	Stdout io.Writer

	// Executor replaces the local runner and ssh dispatcher.
	Executor remote.Executor
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// NewEnvironment wires the command runner, the dispatcher, the host
// agents and the orchestrator for cfg.
func NewEnvironment(cfg *config.Config, opts EnvironmentOptions) (*Environment, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	layout := cfg.Paths()
	exec := opts.Executor
	if exec == nil {
		registry := paths.NewRegistry(append(paths.SearchDirs(layout), cfg.SearchPath...)...)
		r := runner.New(runner.Config{Registry: registry, Progress: stdout})
		exec = remote.NewDispatcher(remote.Config{
			Runner:   r,
			Identity: cfg.SSHIdentity,
			Progress: stdout,
		})
	}
	env := &Environment{
		Config: cfg,
		Stdout: stdout,
		client: afscmd.New(afscmd.Config{
			Executor:  exec,
			LocalAuth: remote.Privileged(cfg.Sudo),
			Sudo:      cfg.Sudo,
			DryRun:    opts.DryRun,
			Clock:     opts.Clock,
		}),
		layout: layout,
		agents: make(map[string]host.Agent),
	}
	db, err := env.agentList(cfg.DB)
	if err != nil {
		return nil, errors.Trace(err)
	}
	fs, err := env.agentList(cfg.FS)
	if err != nil {
		return nil, errors.Trace(err)
	}
	env.Cell, err = cell.New(cell.Config{
		Name:        cfg.Cell,
		Realm:       cfg.Realm,
		DB:          db,
		FS:          fs,
		Admins:      cfg.Admins,
		Impersonate: cfg.Impersonate,
		Keytab:      cfg.Keytab,
		Dynroot:     cfg.IsDynroot(),
		Client:      env.client,
		Installer: installer.NewScriptInstaller(installer.Config{
			Executor: exec,
			Paths:    layout,
			Sudo:     cfg.Sudo,
		}),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return env, nil
}

// Agent returns the agent of a host, creating it on first use so that
// a host in several roles has a single agent.
func (env *Environment) Agent(name string) (host.Agent, error) {
	if agent, ok := env.agents[name]; ok {
		return agent, nil
	}
	agent, err := host.New(host.Config{
		Name:    name,
		Options: env.Config.HostOptions(name),
		Client:  env.client,
		Paths:   env.layout,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	env.agents[name] = agent
	return agent, nil
}

func (env *Environment) agentList(names []string) ([]host.Agent, error) {
	agents := make([]host.Agent, len(names))
	for i, name := range names {
		agent, err := env.Agent(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		agents[i] = agent
	}
	return agents, nil
}
