// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package volumedump

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

// aclSize is the fixed size of a directory access list in a vnode.
const aclSize = 192

// VolumeHeader holds the volume header fields a dump carries.
type VolumeHeader struct {
	ID       uint32
	Name     string
	ParentID uint32
	MaxQuota uint32
	// Other lists the numeric fields by tag that have no field of
	// their own.
	Other map[byte]uint32
}

// Vnode is a file or directory record.
type Vnode struct {
	Number      uint32
	Uniquifier  uint32
	Type        uint8
	DataVersion uint32
	Length      uint32
}

// Dump is the content of a parsed dump.
type Dump struct {
	Header
	VolumeID   uint32
	VolumeName string
	From, To   []uint32
	Volume     VolumeHeader
	Vnodes     []Vnode
}

type dumpReader struct {
	r *bufio.Reader
}

func (d *dumpReader) tag() (byte, error) {
	b, err := d.r.ReadByte()
	if err == io.EOF {
		return 0, errors.Annotate(ErrBadDump, "missing end marker")
	}
	return b, errors.Trace(err)
}

func (d *dumpReader) u8() (uint8, error) {
	b, err := d.r.ReadByte()
	return b, d.short(err)
}

func (d *dumpReader) u16() (uint16, error) {
	var v uint16
	return v, d.short(binary.Read(d.r, binary.BigEndian, &v))
}

func (d *dumpReader) u32() (uint32, error) {
	var v uint32
	return v, d.short(binary.Read(d.r, binary.BigEndian, &v))
}

func (d *dumpReader) cstring() (string, error) {
	s, err := d.r.ReadString(0)
	if err != nil {
		return "", d.short(err)
	}
	return s[:len(s)-1], nil
}

func (d *dumpReader) skip(n int) error {
	_, err := d.r.Discard(n)
	return d.short(err)
}

func (d *dumpReader) short(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Annotate(ErrBadDump, "truncated record")
	}
	return err
}

// Read parses a dump, walking the dump header, volume header and
// vnode records up to the end marker.
func Read(r io.Reader) (*Dump, error) {
	d := &dumpReader{r: bufio.NewReader(r)}
	dump := &Dump{}
	tag, err := d.tag()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if tag != TagDumpHeader {
		return nil, errors.Annotatef(ErrBadDump, "begin tag %#02x", tag)
	}
	if dump.Magic, err = d.u32(); err != nil {
		return nil, errors.Trace(err)
	}
	if dump.Version, err = d.u32(); err != nil {
		return nil, errors.Trace(err)
	}
	if dump.Magic != BeginMagic {
		return nil, errors.Annotatef(ErrBadDump, "begin magic %#08x", dump.Magic)
	}

	section := TagDumpHeader
	var vnode *Vnode
	for {
		tag, err := d.tag()
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch tag {
		case TagVolumeHeader:
			section = TagVolumeHeader
			continue
		case TagVnode:
			section = TagVnode
			dump.Vnodes = append(dump.Vnodes, Vnode{})
			vnode = &dump.Vnodes[len(dump.Vnodes)-1]
			if vnode.Number, err = d.u32(); err != nil {
				return nil, errors.Trace(err)
			}
			if vnode.Uniquifier, err = d.u32(); err != nil {
				return nil, errors.Trace(err)
			}
			continue
		case TagDumpEnd:
			magic, err := d.u32()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if magic != EndMagic {
				return nil, errors.Annotatef(ErrBadDump, "end magic %#08x", magic)
			}
			return dump, nil
		}
		switch section {
		case TagDumpHeader:
			err = d.dumpHeaderField(tag, dump)
		case TagVolumeHeader:
			err = d.volumeHeaderField(tag, &dump.Volume)
		case TagVnode:
			err = d.vnodeField(tag, vnode)
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
}

func (d *dumpReader) dumpHeaderField(tag byte, dump *Dump) error {
	var err error
	switch tag {
	case 'v':
		dump.VolumeID, err = d.u32()
	case 'n':
		dump.VolumeName, err = d.cstring()
	case 't':
		var n uint16
		if n, err = d.u16(); err != nil {
			return err
		}
		for i := 0; i < int(n)/2; i++ {
			var from, to uint32
			if from, err = d.u32(); err != nil {
				return err
			}
			if to, err = d.u32(); err != nil {
				return err
			}
			dump.From = append(dump.From, from)
			dump.To = append(dump.To, to)
		}
	default:
		return errors.Annotatef(ErrBadDump, "unknown dump header tag %q", tag)
	}
	return err
}

func (d *dumpReader) volumeHeaderField(tag byte, h *VolumeHeader) error {
	var err error
	switch tag {
	case 'i':
		h.ID, err = d.u32()
	case 'n':
		h.Name, err = d.cstring()
	case 'p':
		h.ParentID, err = d.u32()
	case 'q':
		h.MaxQuota, err = d.u32()
	case 's', 'b', 't':
		var v uint8
		v, err = d.u8()
		h.other(tag, uint32(v))
	case 'O', 'M':
		_, err = d.cstring()
	case 'W':
		var n uint16
		if n, err = d.u16(); err == nil {
			err = d.skip(4 * int(n))
		}
	case 'v', 'u', 'c', 'm', 'd', 'f', 'a', 'o', 'C', 'A', 'U', 'E', 'B', 'D', 'Z', 'V':
		var v uint32
		v, err = d.u32()
		h.other(tag, v)
	default:
		return errors.Annotatef(ErrBadDump, "unknown volume header tag %q", tag)
	}
	return err
}

func (h *VolumeHeader) other(tag byte, v uint32) {
	if h.Other == nil {
		h.Other = make(map[byte]uint32)
	}
	h.Other[tag] = v
}

func (d *dumpReader) vnodeField(tag byte, v *Vnode) error {
	var err error
	switch tag {
	case 't':
		v.Type, err = d.u8()
	case 'v':
		v.DataVersion, err = d.u32()
	case 'l', 'b':
		_, err = d.u16()
	case 'm', 'a', 'o', 'g', 'p', 's':
		_, err = d.u32()
	case 'A':
		err = d.skip(aclSize)
	case 'f':
		if v.Length, err = d.u32(); err == nil {
			err = d.skip(int(v.Length))
		}
	default:
		return errors.Annotatef(ErrBadDump, "unknown vnode tag %q", tag)
	}
	return err
}
