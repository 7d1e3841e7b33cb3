// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd

import (
	"sort"
	"strings"

	"github.com/juju/errors"
)

// rightsOrder is the canonical order of access rights, as fs prints
// them: the seven standard rights then the eight auxiliary ones.
const rightsOrder = "rlidwkaABCDEFGH"

// Rights is a normalised set of access rights.
type Rights string

// ParseRights normalises a rights string. The aliases "read",
// "write", "all" and "none" are expanded.
func ParseRights(text string) (Rights, error) {
	switch text {
	case "read":
		text = "rl"
	case "write":
		text = "rlidwk"
	case "all":
		text = "rlidwka"
	case "none":
		text = ""
	}
	var b strings.Builder
	for _, r := range rightsOrder {
		if strings.ContainsRune(text, r) {
			b.WriteRune(r)
		}
	}
	for _, r := range text {
		if !strings.ContainsRune(rightsOrder, r) {
			return "", errors.NotValidf("access right %q in %q", string(r), text)
		}
	}
	return Rights(b.String()), nil
}

// ACL is an access control list: positive and negative rights per
// name. Names with empty rights are absent.
type ACL struct {
	positive map[string]Rights
	negative map[string]Rights
}

// NewACL returns an empty ACL.
func NewACL() ACL {
	return ACL{
		positive: make(map[string]Rights),
		negative: make(map[string]Rights),
	}
}

// Add grants rights to name. A leading "-" makes them negative rights,
// a leading "+" (or none) positive ones.
func (a ACL) Add(name, rights string) error {
	negative := false
	switch {
	case strings.HasPrefix(rights, "-"):
		negative = true
		rights = rights[1:]
	case strings.HasPrefix(rights, "+"):
		rights = rights[1:]
	}
	parsed, err := ParseRights(rights)
	if err != nil {
		return errors.Trace(err)
	}
	target := a.positive
	if negative {
		target = a.negative
	}
	if parsed == "" {
		delete(target, name)
		return nil
	}
	target[name] = parsed
	return nil
}

// Contains reports whether name holds exactly the given rights, with
// the same "+"/"-" convention as Add.
func (a ACL) Contains(name, rights string) bool {
	source := a.positive
	switch {
	case strings.HasPrefix(rights, "-"):
		source = a.negative
		rights = rights[1:]
	case strings.HasPrefix(rights, "+"):
		rights = rights[1:]
	}
	parsed, err := ParseRights(rights)
	if err != nil {
		return false
	}
	have, ok := source[name]
	return ok && have == parsed
}

// Equal reports whether two ACLs hold the same entries.
func (a ACL) Equal(other ACL) bool {
	return equalRights(a.positive, other.positive) && equalRights(a.negative, other.negative)
}

func equalRights(a, b map[string]Rights) bool {
	if len(a) != len(b) {
		return false
	}
	for name, rights := range a {
		if b[name] != rights {
			return false
		}
	}
	return true
}

func sortedNames(m map[string]Rights) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String formats the ACL as comma separated "name rights" entries,
// negative rights prefixed with "-".
func (a ACL) String() string {
	var entries []string
	for _, name := range sortedNames(a.positive) {
		entries = append(entries, name+" "+string(a.positive[name]))
	}
	for _, name := range sortedNames(a.negative) {
		entries = append(entries, name+" -"+string(a.negative[name]))
	}
	return strings.Join(entries, ",")
}

// FromArgs builds an ACL from "name rights" strings, the inverse of
// splitting String on commas.
func FromArgs(args ...string) (ACL, error) {
	acl := NewACL()
	for _, arg := range args {
		fields := strings.Fields(arg)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return ACL{}, errors.NotValidf("ACL entry %q", arg)
		}
		if err := acl.Add(fields[0], fields[1]); err != nil {
			return ACL{}, errors.Trace(err)
		}
	}
	return acl, nil
}

// ParseListACL parses the output of "fs listacl".
func ParseListACL(output string) (ACL, error) {
	acl := NewACL()
	sign := ""
	seen := false
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "Access list for"):
			seen = true
			continue
		case strings.HasPrefix(line, "Normal rights:"):
			sign = "+"
			continue
		case strings.HasPrefix(line, "Negative rights:"):
			sign = "-"
			continue
		}
		if sign == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if err := acl.Add(fields[0], sign+fields[1]); err != nil {
			return ACL{}, errors.Trace(err)
		}
	}
	if !seen {
		return ACL{}, errors.Errorf("cannot parse fs listacl output %q", output)
	}
	return acl, nil
}
