// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package fakecell simulates the administrative commands of an
// OpenAFS cell behind a remote.Executor, so that host agents and the
// orchestrator can be exercised without servers.
package fakecell

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openafs-contrib/afscell/internal/remote"
	"github.com/openafs-contrib/afscell/internal/runner"
)

// Instance is a simulated bosserver instance.
type Instance struct {
	Name     string
	Type     string
	Running  bool
	Commands []string
}

// Host is the simulated server state of one machine.
type Host struct {
	Name      string
	CellName  string
	DBHosts   []string
	Users     []string
	Instances map[string]*Instance
	// Unreachable hosts fail every rx and bos probe.
	Unreachable bool

	order []string
}

// Site is a volume location.
type Site struct {
	Server    string
	Partition string
}

// Volume is a simulated VLDB entry.
type Volume struct {
	Name    string
	RW      uint32
	RO      uint32
	RWSite  Site
	ROSites []Site
}

// Call is one executed command.
type Call struct {
	Host string
	Argv []string
}

type failure struct {
	prefix    []string
	remaining int
	output    string
}

// Cell is a simulated cell. It implements remote.Executor.
type Cell struct {
	// ClientCell is the cell the local cache manager belongs to.
	ClientCell string
	// ASetKeyExt makes asetkey advertise the rxkad_krb5 form.
	ASetKeyExt bool

	mu       sync.Mutex
	hosts    map[string]*Host
	volumes  map[string]*Volume
	nextID   uint32
	groups   map[string][]string
	users    []string
	mounts   map[string]string
	acls     map[string]map[string]string
	failures []*failure
	calls    []Call
	copies   []Call
	token    bool
}

var _ remote.Executor = (*Cell)(nil)

// New returns a cell with fresh hosts. Each host starts with a
// bosserver that believes it is the only database server of
// "localcell".
func New(hostnames ...string) *Cell {
	c := &Cell{
		ClientCell: "localcell",
		hosts:      make(map[string]*Host),
		volumes:    make(map[string]*Volume),
		nextID:     536870912,
		groups:     map[string][]string{"system:administrators": nil},
		mounts:     make(map[string]string),
		acls:       make(map[string]map[string]string),
	}
	for _, name := range hostnames {
		c.hosts[name] = &Host{
			Name:      name,
			CellName:  "localcell",
			DBHosts:   []string{name},
			Instances: make(map[string]*Instance),
		}
	}
	return c
}

// Host returns the simulated state of a host.
func (c *Cell) Host(name string) *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[name]
}

// FailNext makes the next n commands starting with prefix fail with
// output. A negative n fails forever.
func (c *Cell) FailNext(n int, output string, prefix ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, &failure{prefix: prefix, remaining: n, output: output})
}

// Calls returns every command executed, in order.
func (c *Cell) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Copies returns every file copy, as host plus {src, dst}.
func (c *Cell) Copies() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.copies...)
}

// Matching returns the commands whose argv starts with prefix.
func (c *Cell) Matching(prefix ...string) []Call {
	var result []Call
	for _, call := range c.Calls() {
		if hasPrefix(call.Argv, prefix) {
			result = append(result, call)
		}
	}
	return result
}

// Volume returns a copy of a VLDB entry.
func (c *Cell) Volume(name string) (Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.volumes[name]
	if !ok {
		return Volume{}, false
	}
	return *v, true
}

// Mounts returns the mount points made with fs mkmount. Values are
// "#volume" for regular and "%volume" for read-write mounts, with a
// "cell:" prefix when a cell was given.
func (c *Cell) Mounts() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]string)
	for k, v := range c.mounts {
		result[k] = v
	}
	return result
}

// ACL returns the rights set with fs setacl on path.
func (c *Cell) ACL(path string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]string)
	for k, v := range c.acls[path] {
		result[k] = v
	}
	return result
}

// Members returns the members of a protection group.
func (c *Cell) Members(group string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.groups[group]...)
}

// PTSUsers returns the users of the protection database.
func (c *Cell) PTSUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

// CopyTo is part of the remote.Executor interface.
func (c *Cell) CopyTo(ctx context.Context, host, src, dst string, elevate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies = append(c.copies, Call{Host: host, Argv: []string{src, dst}})
	return nil
}

// Execute is part of the remote.Executor interface.
func (c *Cell) Execute(ctx context.Context, host string, argv []string, opts remote.Options) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Host: host, Argv: argv})

	fail := func(format string, args ...any) ([]string, error) {
		return nil, &runner.CommandFailed{
			Argv: argv,
			Code: 1,
			Tail: strings.Split(fmt.Sprintf(format, args...), "\n"),
		}
	}
	if f := c.injected(argv); f != nil {
		return fail("%s", f.output)
	}

	args := stripLocalAuth(argv)
	var out string
	var err error
	switch filepath.Base(args[0]) {
	case "bos":
		out, err = c.bos(args[1:])
	case "vos":
		out, err = c.vos(args[1:])
	case "pts":
		out, err = c.pts(args[1:])
	case "fs":
		out, err = c.fs(args[1:])
	case "udebug":
		out, err = c.udebug(args[1:])
	case "rxdebug":
		out, err = c.rxdebug(args[1:])
	case "aklog":
		c.token = true
	case "unlog":
		c.token = false
	case "tokens":
		out = "\nTokens held by the Cache Manager:\n\n"
		if c.token {
			out += fmt.Sprintf("User's (AFS ID 1) rxkad tokens for %s [Expires Oct 20 12:00]\n", c.ClientCell)
		}
		out += "   --End of list--\n"
	case "asetkey":
		if len(args) == 1 {
			usage := "usage: asetkey add <kvno> <keyfile> <princ>"
			if c.ASetKeyExt {
				usage += "\n       asetkey add rxkad_krb5 <kvno> <enctype> <keyfile> <princ>"
			}
			return fail("%s", usage)
		}
	}
	if err != nil {
		return fail("%s", err.Error())
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(strings.TrimRight(out, "\n"), "\n"), nil
}

func (c *Cell) injected(argv []string) *failure {
	for _, f := range c.failures {
		if f.remaining == 0 || !hasPrefix(argv, f.prefix) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return f
	}
	return nil
}

func hasPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

func stripLocalAuth(argv []string) []string {
	var result []string
	for _, a := range argv {
		if a != "-localauth" {
			result = append(result, a)
		}
	}
	return result
}

// flag returns the value following name in args.
func flag(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// flagValues returns every value following name up to the next flag.
func flagValues(args []string, name string) []string {
	var values []string
	for i, a := range args {
		if a != name {
			continue
		}
		for _, v := range args[i+1:] {
			if strings.HasPrefix(v, "-") {
				break
			}
			values = append(values, v)
		}
	}
	return values
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func (c *Cell) server(args []string) (*Host, error) {
	name := flag(args, "-server")
	h, ok := c.hosts[name]
	if !ok || h.Unreachable {
		return nil, fmt.Errorf("bos: can't connect to server %s", name)
	}
	return h, nil
}

func (c *Cell) bos(args []string) (string, error) {
	h, err := c.server(args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	switch args[0] {
	case "listhosts":
		fmt.Fprintf(&b, "Cell name is %s\n", h.CellName)
		for i, host := range h.DBHosts {
			fmt.Fprintf(&b, "    Host %d is %s\n", i+1, host)
		}
	case "setcellname":
		h.CellName = flag(args, "-name")
	case "addhost":
		host := flag(args, "-host")
		if !contains(h.DBHosts, host) {
			h.DBHosts = append(h.DBHosts, host)
		}
	case "removehost":
		h.DBHosts = remove(h.DBHosts, flag(args, "-host"))
	case "status":
		for _, name := range h.order {
			inst := h.Instances[name]
			state := "currently shutdown."
			if inst.Running {
				state = "currently running normally."
			}
			fmt.Fprintf(&b, "Instance %s, (type is %s) %s\n", inst.Name, inst.Type, state)
			for i, cmd := range inst.Commands {
				fmt.Fprintf(&b, "    Command %d is '%s'\n", i+1, cmd)
			}
			b.WriteString("\n")
		}
	case "create":
		name := flag(args, "-instance")
		if _, ok := h.Instances[name]; ok {
			return "", fmt.Errorf("bos: failed to create new server instance %s of type '%s' (entity already exists)", name, flag(args, "-type"))
		}
		h.Instances[name] = &Instance{
			Name:     name,
			Type:     flag(args, "-type"),
			Running:  true,
			Commands: flagValues(args, "-cmd"),
		}
		h.order = append(h.order, name)
	case "shutdown":
		name := flag(args, "-instance")
		if name == "" {
			for _, inst := range h.Instances {
				inst.Running = false
			}
			break
		}
		inst, ok := h.Instances[name]
		if !ok {
			return "", fmt.Errorf("bos: failed to shutdown instance %s (no such entity)", name)
		}
		inst.Running = false
	case "restart":
		name := flag(args, "-instance")
		inst, ok := h.Instances[name]
		if !ok {
			return "", fmt.Errorf("bos: failed to restart instance %s (no such entity)", name)
		}
		inst.Running = true
	case "listusers":
		fmt.Fprintf(&b, "SUsers are: %s\n", strings.Join(h.Users, " "))
	case "adduser":
		user := flag(args, "-user")
		if contains(h.Users, user) {
			return "", fmt.Errorf("bos: failed to add user %s (entry already exists)", user)
		}
		h.Users = append(h.Users, user)
	default:
		return "", fmt.Errorf("bos: unrecognized operation '%s'", args[0])
	}
	return b.String(), nil
}

// running reports whether any host runs the named instance.
func (c *Cell) running(instance string) bool {
	for _, h := range c.hosts {
		if inst, ok := h.Instances[instance]; ok && inst.Running && !h.Unreachable {
			return true
		}
	}
	return false
}

func (h *Host) runs(names ...string) bool {
	for _, name := range names {
		if inst, ok := h.Instances[name]; ok && inst.Running && !h.Unreachable {
			return true
		}
	}
	return false
}

func (c *Cell) sortedVolumes() []*Volume {
	var vols []*Volume
	for _, v := range c.volumes {
		vols = append(vols, v)
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].Name < vols[j].Name })
	return vols
}

func writeEntry(b *strings.Builder, v *Volume) {
	fmt.Fprintf(b, "\n%s\n", v.Name)
	fmt.Fprintf(b, "    RWrite: %d", v.RW)
	if v.RO != 0 {
		fmt.Fprintf(b, "     ROnly: %d", v.RO)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "    number of sites -> %d\n", 1+len(v.ROSites))
	fmt.Fprintf(b, "       server %s partition /vicep%s RW Site\n", v.RWSite.Server, v.RWSite.Partition)
	for _, site := range v.ROSites {
		fmt.Fprintf(b, "       server %s partition /vicep%s RO Site\n", site.Server, site.Partition)
	}
}

func partition(args []string) string {
	return strings.TrimPrefix(strings.TrimPrefix(flag(args, "-partition"), "/"), "vicep")
}

func (c *Cell) vos(args []string) (string, error) {
	if !c.running("vlserver") {
		return "", fmt.Errorf("vos: could not start ubik client (no quorum)")
	}
	var b strings.Builder
	switch args[0] {
	case "listvldb":
		name := flag(args, "-name")
		if name != "" {
			v, ok := c.volumes[name]
			if !ok {
				return "", fmt.Errorf("VLDB: no such entry")
			}
			writeEntry(&b, v)
			break
		}
		b.WriteString("VLDB entries for all servers\n")
		for _, v := range c.sortedVolumes() {
			writeEntry(&b, v)
		}
		fmt.Fprintf(&b, "\nTotal entries: %d\n", len(c.volumes))
	case "create":
		name := flag(args, "-name")
		server := flag(args, "-server")
		if _, ok := c.volumes[name]; ok {
			return "", fmt.Errorf("Volume %s already exists", name)
		}
		h, ok := c.hosts[server]
		if !ok || !h.runs("fs", "dafs") {
			return "", fmt.Errorf("Could not fetch the list of partitions from the server")
		}
		c.volumes[name] = &Volume{
			Name:   name,
			RW:     c.nextID,
			RWSite: Site{Server: server, Partition: partition(args)},
		}
		fmt.Fprintf(&b, "Volume %d created on partition /vicep%s of %s\n", c.nextID, partition(args), server)
		c.nextID += 3
	case "addsite":
		v, ok := c.volumes[flag(args, "-id")]
		if !ok {
			return "", fmt.Errorf("VLDB: no such entry")
		}
		site := Site{Server: flag(args, "-server"), Partition: partition(args)}
		for _, s := range v.ROSites {
			if s == site {
				return "", fmt.Errorf("RO already exists on partition %s", site.Partition)
			}
		}
		v.ROSites = append(v.ROSites, site)
		fmt.Fprintf(&b, "Added replication site %s /vicep%s for volume %s\n", site.Server, site.Partition, v.Name)
	case "release":
		v, ok := c.volumes[flag(args, "-id")]
		if !ok {
			return "", fmt.Errorf("VLDB: no such entry")
		}
		if len(v.ROSites) > 0 {
			v.RO = v.RW + 1
		}
		fmt.Fprintf(&b, "Released volume %s successfully\n", v.Name)
	case "remove":
		id := flag(args, "-id")
		name := strings.TrimSuffix(id, ".readonly")
		v, ok := c.volumes[name]
		if !ok {
			return "", fmt.Errorf("VLDB: no such entry")
		}
		site := Site{Server: flag(args, "-server"), Partition: partition(args)}
		if strings.HasSuffix(id, ".readonly") {
			var kept []Site
			for _, s := range v.ROSites {
				if s != site {
					kept = append(kept, s)
				}
			}
			v.ROSites = kept
			if len(kept) == 0 {
				v.RO = 0
			}
			break
		}
		delete(c.volumes, name)
	case "unlock":
	case "listpart":
		b.WriteString("The partitions on the server are:\n    /vicepa\nTotal: 1\n")
	case "listvol":
		server := flag(args, "-server")
		for _, v := range c.sortedVolumes() {
			if v.RWSite.Server == server {
				fmt.Fprintf(&b, "%-34s %d RW          6 K On-line\n", v.Name, v.RW)
			}
		}
	default:
		return "", fmt.Errorf("vos: Unrecognized operation '%s'", args[0])
	}
	return b.String(), nil
}

func (c *Cell) pts(args []string) (string, error) {
	if !c.running("ptserver") {
		return "", fmt.Errorf("pts: could not initialize protection library (no quorum)")
	}
	var b strings.Builder
	switch args[0] {
	case "createuser":
		name := flag(args, "-name")
		if contains(c.users, name) {
			return "", fmt.Errorf("pts: Entry for name already exists ; unable to create user %s", name)
		}
		c.users = append(c.users, name)
		fmt.Fprintf(&b, "User %s has id %d\n", name, len(c.users))
	case "adduser":
		user, group := flag(args, "-user"), flag(args, "-group")
		if contains(c.groups[group], user) {
			return "", fmt.Errorf("pts: Entry for id already exists ; unable to add user %s to group %s", user, group)
		}
		c.groups[group] = append(c.groups[group], user)
	case "listentries":
		b.WriteString("Name                          ID  Owner Creator\n")
		fmt.Fprintf(&b, "%-24s %6d %6d %6d \n", "anonymous", 32766, -204, -204)
		for i, name := range c.users {
			fmt.Fprintf(&b, "%-24s %6d %6d %6d \n", name, i+1, -204, 32766)
		}
	case "membership":
		group := flag(args, "-nameorid")
		fmt.Fprintf(&b, "Members of %s (id: -204) are:\n", group)
		for _, member := range c.groups[group] {
			fmt.Fprintf(&b, "  %s\n", member)
		}
	default:
		return "", fmt.Errorf("pts: Unrecognized operation '%s'", args[0])
	}
	return b.String(), nil
}

func (c *Cell) fs(args []string) (string, error) {
	var b strings.Builder
	switch args[0] {
	case "wscell":
		fmt.Fprintf(&b, "This workstation belongs to cell '%s'\n", c.ClientCell)
	case "mkmount":
		dir := flag(args, "-dir")
		if _, ok := c.mounts[dir]; ok {
			return "", fmt.Errorf("fs: %s: File exists", dir)
		}
		target := "#" + flag(args, "-vol")
		if hasFlag(args, "-rw") {
			target = "%" + flag(args, "-vol")
		}
		if cell := flag(args, "-cell"); cell != "" {
			target = target[:1] + cell + ":" + target[1:]
		}
		c.mounts[dir] = target
	case "rmmount":
		delete(c.mounts, flag(args, "-dir"))
	case "setacl":
		dir := flag(args, "-dir")
		values := flagValues(args, "-acl")
		if c.acls[dir] == nil {
			c.acls[dir] = make(map[string]string)
		}
		for i := 0; i+1 < len(values); i += 2 {
			c.acls[dir][values[i]] = values[i+1]
		}
	case "listacl":
		path := flag(args, "-path")
		fmt.Fprintf(&b, "Access list for %s is\nNormal rights:\n", path)
		var names []string
		for name := range c.acls[path] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s %s\n", name, c.acls[path][name])
		}
	case "examine":
		path := flag(args, "-path")
		target, ok := c.mounts[path]
		if !ok {
			return "", fmt.Errorf("fs: Invalid argument; it is possible that %s is not in AFS.", path)
		}
		name := target[1:]
		if i := strings.Index(name, ":"); i >= 0 {
			name = name[i+1:]
		}
		v, ok := c.volumes[name]
		if !ok {
			return "", fmt.Errorf("fs: %s: Connection timed out", path)
		}
		id := v.RW
		if target[0] == '#' && v.RO != 0 {
			id, name = v.RO, name+".readonly"
		}
		fmt.Fprintf(&b, "File %s (%d.1.1) contained in volume %d\n", path, id, id)
		fmt.Fprintf(&b, "Volume status for vid = %d named %s\n", id, name)
		b.WriteString("Current disk quota is 5000\nCurrent blocks used are 2\n")
	case "checkvolumes":
	case "getcacheparms":
		b.WriteString("AFS using 1024 of the cache's available 50000 1K byte blocks.\n")
	default:
		return "", fmt.Errorf("fs: Unrecognized operation '%s'", args[0])
	}
	return b.String(), nil
}

var portServices = map[string][]string{
	"7000": {"fs", "dafs"},
	"7002": {"ptserver"},
	"7003": {"vlserver"},
	"7005": {"fs", "dafs"},
}

func (c *Cell) rxdebug(args []string) (string, error) {
	name := flag(args, "-server")
	port := flag(args, "-port")
	h, ok := c.hosts[name]
	if !ok || h.Unreachable {
		return "", fmt.Errorf("Trying %s (port %s):\nrxdebug: error getting version", name, port)
	}
	if services, ok := portServices[port]; ok && !h.runs(services...) {
		return "", fmt.Errorf("Trying %s (port %s):\nrxdebug: error getting version", name, port)
	}
	return fmt.Sprintf("Trying %s (port %s):\nAFS version:  OpenAFS 1.8.10\n", name, port), nil
}

// udebug elects the first running member of the queried host's
// database list as sync site. It recovers once a majority runs.
func (c *Cell) udebug(args []string) (string, error) {
	name := flag(args, "-server")
	service := portServices[flag(args, "-port")]
	h, ok := c.hosts[name]
	if !ok || len(service) != 1 || !h.runs(service...) {
		return "", fmt.Errorf("udebug: timed out talking to %s", name)
	}
	var syncSite string
	up := 0
	for _, member := range h.DBHosts {
		m, ok := c.hosts[member]
		if !ok || !m.runs(service...) {
			continue
		}
		up++
		if syncSite == "" {
			syncSite = member
		}
	}
	if syncSite != name {
		return fmt.Sprintf("Host's addresses are: %s\nI am not sync site\nRecovery state 0\n", name), nil
	}
	state := "0"
	if 2*up > len(h.DBHosts) {
		state = "1f"
	}
	return fmt.Sprintf("Host's addresses are: %s\nI am sync site until 58 secs from now (at 12:00:00)\nRecovery state %s\nLocal db version is 1700000000.1\n", name, state), nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func remove(list []string, item string) []string {
	var result []string
	for _, v := range list {
		if v != item {
			result = append(result, v)
		}
	}
	return result
}
