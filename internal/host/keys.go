// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package host

import (
	"context"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

// KeyLayout is an on-disk format for the server keys.
type KeyLayout string

const (
	// LayoutKeyFile is the legacy single-DES KeyFile.
	LayoutKeyFile KeyLayout = "KeyFile"
	// LayoutKeyFileExt is the KeyFileExt written for non-DES keys.
	LayoutKeyFileExt KeyLayout = "KeyFileExt"
	// LayoutRxkadKeytab is a copy of the keytab named rxkad.keytab.
	LayoutRxkadKeytab KeyLayout = "rxkad.keytab"
)

// desEnctypes are the single-DES encryption types.
var desEnctypes = map[int]bool{1: true, 2: true, 3: true}

// ServiceKey describes the cell's service key.
type ServiceKey struct {
	// Keytab is the local path of the keytab holding the key.
	Keytab    string
	Principal string
	Kvno      int
	Enctype   int
	// Layout is detected on the host when empty.
	Layout KeyLayout
}

// DetectKeyLayout is part of the KeyInstaller interface. DES keys go
// into KeyFile; other keys go into KeyFileExt when the installed
// asetkey can write it, and into rxkad.keytab otherwise.
func (h *Host) DetectKeyLayout(ctx context.Context, enctype int) (KeyLayout, error) {
	if desEnctypes[enctype] {
		return LayoutKeyFile, nil
	}
	usage, err := h.client.ASetKeyUsage(ctx)
	if err != nil {
		return "", errors.Annotatef(err, "probing asetkey on %s", h.name)
	}
	if afscmd.SupportsKeyFileExt(usage) {
		return LayoutKeyFileExt, nil
	}
	return LayoutRxkadKeytab, nil
}

// SetKey is part of the KeyInstaller interface.
func (h *Host) SetKey(ctx context.Context, key ServiceKey) error {
	layout := key.Layout
	if layout == "" {
		var err error
		if layout, err = h.DetectKeyLayout(ctx, key.Enctype); err != nil {
			return errors.Trace(err)
		}
	}
	exec := h.client.Executor()
	logger.Infof("installing %s key (kvno %d, enctype %d) on %s", layout, key.Kvno, key.Enctype, h.name)

	if layout == LayoutRxkadKeytab {
		dst := filepath.Join(h.paths.ServerEtc, "rxkad.keytab")
		return errors.Annotatef(exec.CopyTo(ctx, h.name, key.Keytab, dst, true), "installing %s on %s", dst, h.name)
	}

	staged := filepath.Join(h.paths.ServerLocal, "afscell-service.keytab")
	if err := exec.CopyTo(ctx, h.name, key.Keytab, staged, true); err != nil {
		return errors.Annotatef(err, "copying keytab to %s", h.name)
	}
	defer func() {
		if _, err := h.client.Run(ctx, afscmd.NoRetry, "rm", "-f", staged); err != nil {
			logger.Warningf("cannot remove %s on %s: %v", staged, h.name, err)
		}
	}()
	err := h.client.ASetKeyAdd(ctx, layout == LayoutKeyFileExt, key.Kvno, key.Enctype, staged, key.Principal)
	return errors.Annotatef(err, "adding key to %s on %s", layout, h.name)
}
