// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the description of a cell from YAML.
package config

import (
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/openafs-contrib/afscell/paths"
)

const (
	// EnvConfig names the environment variable holding the default
	// configuration file path.
	EnvConfig = "AFSCELL_CONFIG"

	// EnvLoggingConfig names the environment variable holding the logger
	// levels applied at startup.
	EnvLoggingConfig = "AFSCELL_LOGGING_CONFIG"

	// DefaultPath is used when neither a flag nor EnvConfig names a
	// configuration file.
	DefaultPath = "afscell.yaml"
)

// Configuration keys.
const (
	CellKey        = "cell"
	RealmKey       = "realm"
	DBKey          = "db"
	FSKey          = "fs"
	AdminsKey      = "admins"
	OptionsKey     = "options"
	ImpersonateKey = "impersonate"
	KeytabKey      = "keytab"
	DynrootKey     = "dynroot"
	SSHIdentityKey = "ssh-identity"
	SudoKey        = "sudo"
	LayoutKey      = "layout"
	SearchPathKey  = "search-path"
	VolumesKey     = "volumes"
	PurgeKey       = "purge"
)

var configChecker = schema.StrictFieldMap(schema.Fields{
	CellKey:        schema.NonEmptyString(CellKey),
	RealmKey:       schema.String(),
	DBKey:          schema.List(schema.NonEmptyString("db host")),
	FSKey:          schema.List(schema.NonEmptyString("fs host")),
	AdminsKey:      schema.List(schema.NonEmptyString("admin")),
	OptionsKey:     schema.StringMap(schema.String()),
	ImpersonateKey: schema.Bool(),
	KeytabKey:      schema.String(),
	DynrootKey:     schema.Bool(),
	SSHIdentityKey: schema.String(),
	SudoKey:        schema.Bool(),
	LayoutKey:      schema.OneOf(schema.Const("transarc"), schema.Const("modern")),
	SearchPathKey:  schema.List(schema.String()),
	VolumesKey:     schema.List(schema.NonEmptyString("volume")),
	PurgeKey:       schema.Bool(),
}, schema.Defaults{
	RealmKey:       "",
	OptionsKey:     schema.Omit,
	ImpersonateKey: false,
	KeytabKey:      "",
	DynrootKey:     schema.Omit,
	SSHIdentityKey: "",
	SudoKey:        false,
	LayoutKey:      "transarc",
	SearchPathKey:  schema.Omit,
	VolumesKey:     schema.Omit,
	PurgeKey:       false,
})

// Config describes a cell and how to reach its hosts.
type Config struct {
	Cell  string
	Realm string

	// DB lists the database server hosts. The first is the seed.
	DB []string

	// FS lists the file server hosts. The first holds the
	// read-write root volumes.
	FS []string

	Admins []string

	// Options maps a program name, or "host.program", to the extra
	// flags of that program.
	Options map[string]string

	Impersonate bool
	Keytab      string

	// Dynroot overrides the cache manager mode inferred from the
	// afsd options when set.
	Dynroot *bool

	SSHIdentity string
	Sudo        bool
	Layout      string
	SearchPath  []string
	Volumes     []string
	Purge       bool
}

// Parse reads a configuration from YAML.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "parsing configuration")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	coerced, err := configChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(err, "validating configuration")
	}
	attrs := coerced.(map[string]any)

	cfg := &Config{
		Cell:        attrs[CellKey].(string),
		Realm:       attrs[RealmKey].(string),
		DB:          stringList(attrs[DBKey]),
		FS:          stringList(attrs[FSKey]),
		Admins:      stringList(attrs[AdminsKey]),
		Impersonate: attrs[ImpersonateKey].(bool),
		Keytab:      attrs[KeytabKey].(string),
		SSHIdentity: attrs[SSHIdentityKey].(string),
		Sudo:        attrs[SudoKey].(bool),
		Layout:      attrs[LayoutKey].(string),
		SearchPath:  stringList(attrs[SearchPathKey]),
		Volumes:     stringList(attrs[VolumesKey]),
		Purge:       attrs[PurgeKey].(bool),
	}
	if options, ok := attrs[OptionsKey].(map[string]any); ok {
		cfg.Options = make(map[string]string, len(options))
		for k, v := range options {
			cfg.Options[k] = v.(string)
		}
	}
	if dynroot, ok := attrs[DynrootKey].(bool); ok {
		cfg.Dynroot = &dynroot
	}
	if cfg.Realm == "" {
		cfg.Realm = strings.ToUpper(cfg.Cell)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// ReadFile reads the configuration at path.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := Parse(data)
	return cfg, errors.Annotatef(err, "reading %s", path)
}

// Path returns the configuration path to use when none was given on
// the command line.
func Path() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return DefaultPath
}

func stringList(v any) []string {
	items, _ := v.([]any)
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.(string)
	}
	return out
}

// Validate checks the relationships between fields.
func (c *Config) Validate() error {
	if c.Cell == "" {
		return errors.NotValidf("empty cell name")
	}
	if strings.ContainsAny(c.Cell, " /:") {
		return errors.NotValidf("cell name %q", c.Cell)
	}
	if len(c.DB) == 0 {
		return errors.NotValidf("cell without database servers")
	}
	if len(c.FS) == 0 {
		return errors.NotValidf("cell without file servers")
	}
	if len(c.Admins) == 0 {
		return errors.NotValidf("cell without admins")
	}
	if dup := duplicate(c.DB); dup != "" {
		return errors.NotValidf("database server %q listed twice", dup)
	}
	if dup := duplicate(c.FS); dup != "" {
		return errors.NotValidf("file server %q listed twice", dup)
	}
	if _, err := paths.ForLayout(c.Layout); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func duplicate(items []string) string {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item] {
			return item
		}
		seen[item] = true
	}
	return ""
}

// Paths returns the install layout of the cell's hosts.
func (c *Config) Paths() paths.Collection {
	layout, _ := paths.ForLayout(c.Layout)
	return layout
}

// Hosts returns every database and file server host, database
// servers first, without repeats.
func (c *Config) Hosts() []string {
	var hosts []string
	seen := make(map[string]bool)
	for _, host := range append(append([]string(nil), c.DB...), c.FS...) {
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// HostOptions returns the program flags that apply on host: plain
// "program" entries overridden by "host.program" entries. Host names
// may contain dots, program names do not.
func (c *Config) HostOptions(host string) map[string]string {
	options := make(map[string]string)
	var scoped []string
	for key, value := range c.Options {
		i := strings.LastIndex(key, ".")
		if i < 0 {
			options[key] = value
			continue
		}
		if key[:i] == host {
			scoped = append(scoped, key)
		}
	}
	sort.Strings(scoped)
	for _, key := range scoped {
		options[key[strings.LastIndex(key, ".")+1:]] = c.Options[key]
	}
	return options
}

// IsDynroot reports whether the local cache manager runs in dynroot
// mode. Without an explicit setting it is inferred from the afsd
// flags.
func (c *Config) IsDynroot() bool {
	if c.Dynroot != nil {
		return *c.Dynroot
	}
	return strings.Contains(c.Options["afsd"], "-dynroot")
}
