// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/runner"
)

// ASetKeyUsage returns the usage text of asetkey. asetkey exits
// non-zero when run without arguments, so the failure output is the
// answer.
func (c *Client) ASetKeyUsage(ctx context.Context) (string, error) {
	out, err := c.query(ctx, "asetkey")
	if err == nil {
		return out, nil
	}
	if failed, ok := runner.AsCommandFailed(err); ok {
		return failed.Output(), nil
	}
	return "", errors.Trace(err)
}

// SupportsKeyFileExt reports whether the asetkey usage text offers
// the rxkad_krb5 form that writes KeyFileExt.
func SupportsKeyFileExt(usage string) bool {
	return strings.Contains(usage, "rxkad_krb5")
}

// ASetKeyAdd installs a key from a keytab. ext selects the
// KeyFileExt form which records the enctype; otherwise the legacy
// KeyFile form is used.
func (c *Client) ASetKeyAdd(ctx context.Context, ext bool, kvno, enctype int, keytab, principal string) error {
	args := []string{"add"}
	if ext {
		args = append(args, "rxkad_krb5", strconv.Itoa(kvno), strconv.Itoa(enctype))
	} else {
		args = append(args, strconv.Itoa(kvno))
	}
	args = append(args, keytab, principal)
	_, err := c.Run(ctx, NoRetry, "asetkey", args...)
	return errors.Trace(err)
}

// Aklog obtains an AFS token for cell. When keytab and principal are
// given, aklog forges the token from the service key instead of
// asking the KDC.
func (c *Client) Aklog(ctx context.Context, cell, realm, keytab, principal string) error {
	args := []string{"-d", "-c", cell, "-k", realm}
	if keytab != "" {
		args = append(args, "-keytab", keytab, "-principal", principal)
	}
	_, err := c.Run(ctx, NoRetry, "aklog", args...)
	return errors.Trace(err)
}

// Kinit obtains a ticket granting ticket for principal from keytab.
func (c *Client) Kinit(ctx context.Context, keytab, principal string) error {
	_, err := c.Run(ctx, NoRetry, "kinit", "-k", "-t", keytab, principal)
	return errors.Trace(err)
}

// Unlog discards the AFS tokens of the current session.
func (c *Client) Unlog(ctx context.Context) error {
	_, err := c.Run(ctx, NoRetry, "unlog")
	return errors.Trace(err)
}

// Tokens returns the output of the tokens command.
func (c *Client) Tokens(ctx context.Context) (string, error) {
	out, err := c.query(ctx, "tokens")
	return out, errors.Trace(err)
}
