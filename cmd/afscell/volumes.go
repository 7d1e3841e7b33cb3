// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/ansiterm"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/volumedump"
)

type volumesCommand struct {
	out Output
}

func (c *volumesCommand) Info() *Info {
	return &Info{
		Name:    "volumes",
		Purpose: "list the volume location database",
	}
}

func (c *volumesCommand) SetFlags(f *gnuflag.FlagSet) {
	formatters := map[string]Formatter{"tabular": formatVolumesTabular}
	for name, formatter := range DefaultFormatters {
		formatters[name] = formatter
	}
	c.out.AddFlags(f, "tabular", formatters)
}

func (c *volumesCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *volumesCommand) Run(ctx context.Context, env *Environment) error {
	entries, err := env.Cell.Volumes(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.out.Write(env.Stdout, newVolumeList(entries)))
}

type volumeStatus struct {
	Name    string   `yaml:"name" json:"name"`
	RW      uint32   `yaml:"rw" json:"rw"`
	RO      uint32   `yaml:"ro,omitempty" json:"ro,omitempty"`
	Site    string   `yaml:"site" json:"site"`
	Replica []string `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	Locked  bool     `yaml:"locked,omitempty" json:"locked,omitempty"`
}

func siteString(s afscmd.Site) string {
	return s.Server + ":/vicep" + s.Partition
}

func newVolumeList(entries []afscmd.VolumeEntry) []volumeStatus {
	result := make([]volumeStatus, 0, len(entries))
	for _, e := range entries {
		v := volumeStatus{
			Name:   e.Name,
			RW:     e.RW,
			RO:     e.RO,
			Site:   siteString(e.RWSite),
			Locked: e.Locked,
		}
		for _, site := range e.ROSites {
			v.Replica = append(v.Replica, siteString(site))
		}
		result = append(result, v)
	}
	return result
}

func formatVolumesTabular(w io.Writer, value any) error {
	volumes, ok := value.([]volumeStatus)
	if !ok {
		return errors.Errorf("expected []volumeStatus, got %T", value)
	}
	tw := ansiterm.NewTabWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintf(tw, "VOLUME\tRW\tRO\tSITE\tREPLICAS\n")
	for _, v := range volumes {
		ro := "-"
		if v.RO != 0 {
			ro = strconv.FormatUint(uint64(v.RO), 10)
		}
		name := v.Name
		if v.Locked {
			name += " (locked)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", name, v.RW, ro, v.Site, dash(strings.Join(v.Replica, ",")))
	}
	return errors.Trace(tw.Flush())
}

type rmVolumeCommand struct {
	volumes []string
}

func (c *rmVolumeCommand) Info() *Info {
	return &Info{
		Name:    "rmvolume",
		Args:    "<volume> ...",
		Purpose: "unmount and remove volumes created by mtroot",
	}
}

func (c *rmVolumeCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *rmVolumeCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no volume specified")
	}
	c.volumes = args
	return nil
}

func (c *rmVolumeCommand) Run(ctx context.Context, env *Environment) error {
	for _, name := range c.volumes {
		if err := env.Cell.UnmountVolume(ctx, name); err != nil {
			return errors.Annotatef(err, "removing volume %s", name)
		}
	}
	return nil
}

type checkRootCommand struct{}

func (c *checkRootCommand) Info() *Info {
	return &Info{
		Name:    "checkroot",
		Purpose: "verify the root mount points and their access rights",
	}
}

func (c *checkRootCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *checkRootCommand) Init(args []string) error {
	return checkEmpty(args)
}

func (c *checkRootCommand) Run(ctx context.Context, env *Environment) error {
	checks, err := env.Cell.CheckRoot(ctx)
	bad := 0
	for _, check := range checks {
		state := "ok"
		if !check.OK {
			state = fmt.Sprintf("expected %s, found %s", check.Want, dash(check.Got))
			bad++
		}
		fmt.Fprintf(env.Stdout, "%s: %s\n", check.Path, state)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if bad > 0 {
		return errors.Errorf("%d of %d mount points are wrong", bad, len(checks))
	}
	return nil
}

type emptyDumpCommand struct {
	path     string
	volumeID uint32
}

func (c *emptyDumpCommand) Info() *Info {
	return &Info{
		Name:    "emptydump",
		Args:    "<file> <volume-id>",
		Purpose: "write the smallest valid dump of a volume",
		Doc: `
The dump restores to an empty volume with "vos restore". The file is
checked after writing.`,
	}
}

func (c *emptyDumpCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *emptyDumpCommand) configless() {}

func (c *emptyDumpCommand) Init(args []string) error {
	if len(args) != 2 {
		return errors.New("expected a file and a volume id")
	}
	id, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return errors.NotValidf("volume id %q", args[1])
	}
	c.path, c.volumeID = args[0], uint32(id)
	return nil
}

func (c *emptyDumpCommand) Run(ctx context.Context, env *Environment) error {
	if err := volumedump.CreateEmpty(c.path, c.volumeID); err != nil {
		return errors.Trace(err)
	}
	_, err := volumedump.CheckFile(c.path)
	return errors.Trace(err)
}

type checkDumpCommand struct {
	path string
}

func (c *checkDumpCommand) Info() *Info {
	return &Info{
		Name:    "checkdump",
		Args:    "<file>",
		Purpose: "validate a volume dump and summarise its records",
	}
}

func (c *checkDumpCommand) SetFlags(f *gnuflag.FlagSet) {}

func (c *checkDumpCommand) configless() {}

func (c *checkDumpCommand) Init(args []string) error {
	if len(args) != 1 {
		return errors.New("expected a dump file")
	}
	c.path = args[0]
	return nil
}

func (c *checkDumpCommand) Run(ctx context.Context, env *Environment) error {
	summary, err := summariseDump(c.path)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintln(env.Stdout, summary)
	return nil
}

func summariseDump(path string) (string, error) {
	header, err := volumedump.CheckFile(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()
	dump, err := volumedump.Read(f)
	if err != nil {
		return "", errors.Annotatef(err, "reading %s", path)
	}
	name := dump.VolumeName
	if name == "" {
		name = dump.Volume.Name
	}
	return fmt.Sprintf("%s: version %d dump of volume %d %s, %d vnodes",
		path, header.Version, dump.VolumeID, dash(name), len(dump.Vnodes)), nil
}
