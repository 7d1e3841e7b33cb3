// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"
)

// Formatter renders a command result onto w.
type Formatter func(w io.Writer, value any) error

func formatYaml(w io.Writer, value any) error {
	if value == nil {
		return nil
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(enc.Close())
}

func formatJson(w io.Writer, value any) error {
	if value == nil {
		return nil
	}
	return errors.Trace(json.NewEncoder(w).Encode(value))
}

// DefaultFormatters are offered by every command with structured
// output, alongside its own tabular form.
var DefaultFormatters = map[string]Formatter{
	"yaml": formatYaml,
	"json": formatJson,
}

// formatterValue is the gnuflag.Value behind --format.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

func newFormatterValue(initial string, formatters map[string]Formatter) *formatterValue {
	if _, ok := formatters[initial]; !ok {
		panic("default format " + initial + " has no formatter")
	}
	return &formatterValue{name: initial, formatters: formatters}
}

// Set is part of the gnuflag.Value interface.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.NotValidf("format %q", value)
	}
	v.name = value
	return nil
}

// String is part of the gnuflag.Value interface.
func (v *formatterValue) String() string {
	return v.name
}

func (v *formatterValue) doc() string {
	var choices []string
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "output format: " + strings.Join(choices, ", ")
}

// Output interprets the output flags and writes a value to a file or
// to the environment's stdout.
type Output struct {
	formatter *formatterValue
	outPath   string
}

// AddFlags injects the --format and --output flags into f.
func (c *Output) AddFlags(f *gnuflag.FlagSet, name string, formatters map[string]Formatter) {
	c.formatter = newFormatterValue(name, formatters)
	f.Var(c.formatter, "format", c.formatter.doc())
	f.StringVar(&c.outPath, "o", "", "write to this file instead of stdout")
	f.StringVar(&c.outPath, "output", "", "")
}

// Name returns the chosen format.
func (c *Output) Name() string {
	return c.formatter.name
}

// Write formats value as directed by the flags.
func (c *Output) Write(stdout io.Writer, value any) error {
	if c.formatter == nil {
		return errors.New("output format not set")
	}
	if c.outPath == "" {
		return c.formatter.formatters[c.formatter.name](stdout, value)
	}
	f, err := os.Create(c.outPath)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.formatter.formatters[c.formatter.name](f, value); err != nil {
		f.Close()
		return errors.Annotatef(err, "writing %s", c.outPath)
	}
	return errors.Trace(f.Close())
}
