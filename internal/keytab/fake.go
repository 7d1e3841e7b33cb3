// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package keytab

import (
	"crypto/rand"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
)

// Encryption types.
const (
	EnctypeDESCBCCRC           = 1
	EnctypeDESCBCMD4           = 2
	EnctypeDESCBCMD5           = 3
	EnctypeAES128CTSHMACSHA196 = 17
	EnctypeAES256CTSHMACSHA196 = 18
)

// ServicePrincipal returns the AFS service principal of a cell.
func ServicePrincipal(cell, realm string) Principal {
	return Principal{
		Components: []string{"afs", cell},
		Realm:      realm,
		NameType:   NameTypeSrvInst,
	}
}

// FakeOptions configure CreateFake.
type FakeOptions struct {
	Cell  string
	Realm string
	Kvno  uint32
	// Rand defaults to crypto/rand.
	Rand io.Reader
	// Now defaults to time.Now.
	Now func() time.Time
}

// CreateFake writes a keytab holding a random AES256 service key for
// the cell, for use without a key distribution center. An existing
// file is replaced.
func CreateFake(path string, opts FakeOptions) (Entry, error) {
	if opts.Cell == "" || opts.Realm == "" {
		return Entry{}, errors.NotValidf("fake keytab without cell or realm")
	}
	random := opts.Rand
	if random == nil {
		random = rand.Reader
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	kvno := opts.Kvno
	if kvno == 0 {
		kvno = 1
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(random, key); err != nil {
		return Entry{}, errors.Annotate(err, "generating key")
	}
	entry := Entry{
		Principal: ServicePrincipal(opts.Cell, opts.Realm),
		Timestamp: now().UTC().Truncate(time.Second),
		Kvno:      kvno,
		Enctype:   EnctypeAES256CTSHMACSHA196,
		Key:       key,
	}
	kt := &Keytab{Entries: []Entry{entry}}
	if err := kt.WriteFile(path); err != nil {
		return Entry{}, errors.Trace(err)
	}
	return entry, nil
}

// RemoveFake deletes a keytab made by CreateFake. A missing file is
// not an error.
func RemoveFake(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}
