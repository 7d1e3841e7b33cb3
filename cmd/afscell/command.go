// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/mutex/v2"

	"github.com/openafs-contrib/afscell/internal/config"
)

// Info describes a command's intent and usage.
type Info struct {
	// Name is the command's name.
	Name string

	// Args describes the command's expected arguments.
	Args string

	// Purpose is a short explanation of the command's purpose.
	Purpose string

	// Doc is the long documentation for the command.
	Doc string
}

// Usage combines Name and Args to describe the command's intended usage.
func (i *Info) Usage() string {
	return strings.TrimSpace(fmt.Sprintf("afscell %s %s", i.Name, i.Args))
}

// Command is implemented by every afscell subcommand.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds the command's options to f.
	SetFlags(f *gnuflag.FlagSet)

	// Init handles the positional arguments left after the flags.
	Init(args []string) error

	// Run executes the command in the environment built from the
	// cell configuration.
	Run(ctx context.Context, env *Environment) error
}

// configlessCommand is implemented by commands that work on local
// files only. They run without reading the cell configuration.
type configlessCommand interface {
	Command
	configless()
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	dryRun     bool
	debug      bool
	logging    string
	logFile    string
}

func (c *commonFlags) setFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "cell configuration file (default $"+config.EnvConfig+" or "+config.DefaultPath+")")
	f.BoolVar(&c.dryRun, "dry-run", false, "print the commands instead of running them")
	f.BoolVar(&c.debug, "debug", false, "log at debug level")
	f.StringVar(&c.logging, "logging-config", "", "logger levels, e.g. <root>=DEBUG (default $"+config.EnvLoggingConfig+")")
	f.StringVar(&c.logFile, "log-file", "", "also write the log to this file, rotated at 100 MB")
}

// loggingSpec returns the logger configuration to apply.
func (c *commonFlags) loggingSpec() string {
	switch {
	case c.logging != "":
		return c.logging
	case os.Getenv(config.EnvLoggingConfig) != "":
		return os.Getenv(config.EnvLoggingConfig)
	case c.debug:
		return "<root>=DEBUG"
	}
	return "<root>=INFO"
}

func (c *commonFlags) path() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.Path()
}

var commands = map[string]func() Command{
	"newcell":  func() Command { return &newCellCommand{} },
	"mtroot":   func() Command { return &mtRootCommand{} },
	"addfs":    func() Command { return &addFSCommand{} },
	"setkey":   func() Command { return &setKeyCommand{} },
	"login":    func() Command { return &loginCommand{} },
	"teardown": func() Command { return &teardownCommand{} },
	"status":   func() Command { return &statusCommand{} },

	"volumes":   func() Command { return &volumesCommand{} },
	"rmvolume":  func() Command { return &rmVolumeCommand{} },
	"checkroot": func() Command { return &checkRootCommand{} },
	"logout":    func() Command { return &logoutCommand{} },
	"emptydump": func() Command { return &emptyDumpCommand{} },
	"checkdump": func() Command { return &checkDumpCommand{} },
}

func printCommands(w io.Writer) {
	fmt.Fprintf(w, "usage: afscell <command> [options] [args]\n\ncommands:\n")
	var names []string
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "    %-10s %s\n", name, commands[name]().Info().Purpose)
	}
}

func printUsage(w io.Writer, cmd Command, f *gnuflag.FlagSet) {
	i := cmd.Info()
	fmt.Fprintf(w, "usage: %s\n", i.Usage())
	fmt.Fprintf(w, "purpose: %s\n", i.Purpose)
	fmt.Fprintf(w, "\noptions:\n")
	f.SetOutput(w)
	f.PrintDefaults()
	if i.Doc != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(i.Doc))
	}
}

// parse returns the command named by args[0] with its flags parsed.
func parse(args []string, stderr io.Writer) (Command, *commonFlags, error) {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printCommands(stderr)
		return nil, nil, gnuflag.ErrHelp
	}
	newCommand, ok := commands[args[0]]
	if !ok {
		return nil, nil, errors.Errorf("unrecognized command: afscell %s", args[0])
	}
	cmd := newCommand()
	common := &commonFlags{}
	f := gnuflag.NewFlagSet(cmd.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.Usage = func() { printUsage(stderr, cmd, f) }
	common.setFlags(f)
	cmd.SetFlags(f)
	if err := f.Parse(true, args[1:]); err != nil {
		return nil, nil, err
	}
	if err := cmd.Init(f.Args()); err != nil {
		return nil, nil, errors.Trace(err)
	}
	return cmd, common, nil
}

// lockName is the machine-wide lock held while a command works on a
// cell, so that two runs never edit the same servers at once.
const lockName = "afscell"

// lockTimeout bounds the wait for another run to finish.
const lockTimeout = 5 * time.Minute

func acquireLock(ctx context.Context) (mutex.Releaser, error) {
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    lockName,
		Clock:   clock.WallClock,
		Delay:   250 * time.Millisecond,
		Timeout: lockTimeout,
		Cancel:  ctx.Done(),
	})
	return releaser, errors.Annotate(err, "waiting for another afscell run")
}

// fileWriterName is the loggo writer registered by --log-file.
const fileWriterName = "file"

// logToFile adds a rotating file writer to the default logging
// context. The returned func removes and closes it.
func logToFile(path string) (func(), error) {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		Compress:   true,
	}
	if err := loggo.RegisterWriter(fileWriterName, loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		return nil, errors.Annotatef(err, "logging to %s", path)
	}
	return func() {
		_, _ = loggo.RemoveWriter(fileWriterName)
		_ = writer.Close()
	}, nil
}

// Main runs the command named by args and returns the exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, common, err := parse(args, stderr)
	if err == gnuflag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if err := loggo.ConfigureLoggers(common.loggingSpec()); err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if common.logFile != "" {
		stopLogging, err := logToFile(common.logFile)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			return 2
		}
		defer stopLogging()
	}
	env := &Environment{Stdout: stdout}
	if _, ok := cmd.(configlessCommand); !ok {
		cfg, err := config.ReadFile(common.path())
		if err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			return 2
		}
		releaser, err := acquireLock(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			return 1
		}
		defer releaser.Release()
		env, err = NewEnvironment(cfg, EnvironmentOptions{DryRun: common.dryRun, Stdout: stdout})
		if err != nil {
			fmt.Fprintf(stderr, "ERROR %v\n", err)
			return 1
		}
	}
	if err := cmd.Run(ctx, env); err != nil {
		logger.Debugf("%s command failed: %s", cmd.Info().Name, errors.ErrorStack(err))
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}
