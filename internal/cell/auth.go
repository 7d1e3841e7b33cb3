// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell

import (
	"context"
	"os"
	"strings"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/host"
	"github.com/openafs-contrib/afscell/internal/keytab"
)

// principal returns the Kerberos principal of a protection database
// user name: "admin.x" is "admin/x@REALM".
func (c *Cell) principal(user string) string {
	return strings.Replace(user, ".", "/", 1) + "@" + c.realm
}

// serviceKey returns the cell's service key from the keytab.
func (c *Cell) serviceKey() (keytab.Entry, error) {
	if c.keytab == "" {
		return keytab.Entry{}, errors.NotValidf("empty keytab path")
	}
	kt, err := keytab.ReadFile(c.keytab)
	if err != nil {
		return keytab.Entry{}, errors.Annotatef(err, "reading keytab %s", c.keytab)
	}
	principal := keytab.ServicePrincipal(c.name, c.realm).String()
	entry, ok := kt.Find(principal)
	if !ok {
		return keytab.Entry{}, errors.NotFoundf("%s in %s", principal, c.keytab)
	}
	return entry, nil
}

// Login obtains a token for user on this machine. In impersonation
// mode the token is forged from the service key; otherwise a ticket is
// obtained with the keytab first.
func (c *Cell) Login(ctx context.Context, user string) error {
	principal := c.principal(user)
	logger.Infof("obtaining token for %s in cell %s", principal, c.name)
	if c.impersonate {
		if _, err := c.serviceKey(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(c.client.Aklog(ctx, c.name, c.realm, c.keytab, principal))
	}
	if err := c.client.Kinit(ctx, c.keytab, principal); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.client.Aklog(ctx, c.name, c.realm, "", ""))
}

// CreateFakeKeytab writes a random service key for the cell unless the
// keytab exists. It only applies in impersonation mode.
func (c *Cell) CreateFakeKeytab() error {
	if !c.impersonate {
		return errors.NotSupportedf("fake keytab without impersonation")
	}
	if _, err := os.Stat(c.keytab); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	entry, err := keytab.CreateFake(c.keytab, keytab.FakeOptions{Cell: c.name, Realm: c.realm})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("created fake keytab %s for %s", c.keytab, entry.Principal)
	return nil
}

// SetServiceKeys installs the cell's service key on every server,
// in whatever key layout each server supports.
func (c *Cell) SetServiceKeys(ctx context.Context) error {
	if c.impersonate {
		if err := c.CreateFakeKeytab(); err != nil {
			return errors.Trace(err)
		}
	}
	entry, err := c.serviceKey()
	if err != nil {
		return errors.Trace(err)
	}
	for _, h := range c.Hosts() {
		layout, err := h.DetectKeyLayout(ctx, int(entry.Enctype))
		if err != nil {
			return errors.Trace(err)
		}
		logger.Infof("installing %s key version %d on %s as %s", entry.Principal, entry.Kvno, h.Name(), layout)
		err = h.SetKey(ctx, host.ServiceKey{
			Keytab:    c.keytab,
			Principal: entry.Principal.String(),
			Kvno:      int(entry.Kvno),
			Enctype:   int(entry.Enctype),
			Layout:    layout,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
