// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keytab reads and writes MIT format (version 0x0502) keytab
// files on top of the gokrb5 keytab codec.
package keytab

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"
	"time"

	krbkeytab "github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/juju/errors"
)

const (
	// Version is the only supported file format version.
	Version = 0x0502

	// NameTypePrincipal is KRB5_NT_PRINCIPAL.
	NameTypePrincipal = 1
	// NameTypeSrvInst is KRB5_NT_SRV_INST.
	NameTypeSrvInst = 2
)

// ErrBadFormat is returned for input that is not a keytab.
const ErrBadFormat = errors.ConstError("bad keytab format")

// Principal is a Kerberos principal name.
type Principal struct {
	Components []string
	Realm      string
	NameType   uint32
}

// ParsePrincipal parses "comp1/comp2@REALM". A principal without a
// realm uses defaultRealm.
func ParsePrincipal(text, defaultRealm string) (Principal, error) {
	name, realm := text, defaultRealm
	if i := strings.LastIndex(text, "@"); i >= 0 {
		name, realm = text[:i], text[i+1:]
	}
	if name == "" || realm == "" {
		return Principal{}, errors.NotValidf("principal %q", text)
	}
	components := strings.Split(name, "/")
	for _, c := range components {
		if c == "" {
			return Principal{}, errors.NotValidf("principal %q", text)
		}
	}
	nameType := uint32(NameTypePrincipal)
	if len(components) > 1 {
		nameType = NameTypeSrvInst
	}
	return Principal{Components: components, Realm: realm, NameType: nameType}, nil
}

// String returns the principal as "comp1/comp2@REALM".
func (p Principal) String() string {
	return strings.Join(p.Components, "/") + "@" + p.Realm
}

// Entry is one key of a keytab.
type Entry struct {
	Principal Principal
	Timestamp time.Time
	Kvno      uint32
	Enctype   uint16
	Key       []byte
}

// Keytab is an ordered list of keys.
type Keytab struct {
	Entries []Entry
}

// Find returns the entry with the highest kvno for principal.
func (k *Keytab) Find(principal string) (Entry, bool) {
	var best Entry
	found := false
	for _, e := range k.Entries {
		if e.Principal.String() != principal {
			continue
		}
		if !found || e.Kvno > best.Kvno {
			best, found = e, true
		}
	}
	return best, found
}

// maxFileSize bounds the input Read accepts. Real keytabs hold a
// handful of keys.
const maxFileSize = 1 << 20

// Read parses a keytab. Deleted entries (holes) are skipped.
func Read(in io.Reader) (*Keytab, error) {
	data, err := io.ReadAll(io.LimitReader(in, maxFileSize+1))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(data) > maxFileSize {
		return nil, errors.Annotatef(ErrBadFormat, "larger than %d bytes", maxFileSize)
	}
	if len(data) < 2 {
		return nil, errors.Annotate(ErrBadFormat, "missing version")
	}
	if version := binary.BigEndian.Uint16(data); version != Version {
		return nil, errors.Annotatef(ErrBadFormat, "unsupported version %#04x", version)
	}
	raw := krbkeytab.New()
	if err := raw.Unmarshal(data); err != nil {
		return nil, errors.Annotate(ErrBadFormat, err.Error())
	}
	kt := &Keytab{}
	for _, e := range raw.Entries {
		kt.Entries = append(kt.Entries, Entry{
			Principal: Principal{
				Components: e.Principal.Components,
				Realm:      e.Principal.Realm,
				NameType:   uint32(e.Principal.NameType),
			},
			Timestamp: e.Timestamp.UTC(),
			Kvno:      e.KVNO,
			Enctype:   uint16(e.Key.KeyType),
			Key:       e.Key.KeyValue,
		})
	}
	return kt, nil
}

// ReadFile reads the keytab at path.
func ReadFile(path string) (*Keytab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	kt, err := Read(f)
	return kt, errors.Annotatef(err, "reading %s", path)
}

// appendZero grows entries by one zero element and returns it.
func appendZero[E any](entries []E) ([]E, *E) {
	var zero E
	entries = append(entries, zero)
	return entries, &entries[len(entries)-1]
}

// Write serialises the keytab.
func (k *Keytab) Write(out io.Writer) error {
	raw := krbkeytab.New()
	for _, e := range k.Entries {
		entries, re := appendZero(raw.Entries)
		raw.Entries = entries
		re.Principal.NumComponents = int16(len(e.Principal.Components))
		re.Principal.Components = e.Principal.Components
		re.Principal.Realm = e.Principal.Realm
		re.Principal.NameType = int32(e.Principal.NameType)
		re.Timestamp = e.Timestamp
		re.KVNO8 = uint8(e.Kvno)
		re.KVNO = e.Kvno
		re.Key = types.EncryptionKey{KeyType: int32(e.Enctype), KeyValue: e.Key}
	}
	data, err := raw.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = out.Write(data)
	return errors.Trace(err)
}

// WriteFile writes the keytab to path, readable by the owner only.
func (k *Keytab) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := k.Write(&buf); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(os.WriteFile(path, buf.Bytes(), 0600), "writing %s", path)
}
