// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package volumedump writes and checks volume dump files. A dump is a
// sequence of tagged records in network byte order, framed by a
// begin header and an end marker.
package volumedump

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/juju/errors"
)

// Record tags and magic numbers.
const (
	TagDumpHeader   = 0x01
	TagVolumeHeader = 0x02
	TagVnode        = 0x03
	TagDumpEnd      = 0x04

	BeginMagic  = 0xB3A11322
	EndMagic    = 0x3A214B6E
	DumpVersion = 1

	// headerSize is the begin tag plus magic and version.
	headerSize = 9
	// trailerSize is the end tag plus magic.
	trailerSize = 5
)

// ErrBadDump is returned for a file that is not a valid dump.
const ErrBadDump = errors.ConstError("bad volume dump")

// Writer writes dump records. The first error sticks and is returned
// by every later call.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter returns a Writer on w. Call Close to flush.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) put(v any) {
	if w.err == nil {
		w.err = binary.Write(w.w, binary.BigEndian, v)
	}
}

func (w *Writer) putString(s string) {
	if w.err != nil {
		return
	}
	if _, w.err = w.w.WriteString(s); w.err == nil {
		w.err = w.w.WriteByte(0)
	}
}

// DumpHeader writes the begin header, the volume id and a full dump
// time range. An empty name is left out.
func (w *Writer) DumpHeader(volumeID uint32, name string) error {
	w.put(uint8(TagDumpHeader))
	w.put(uint32(BeginMagic))
	w.put(uint32(DumpVersion))
	w.put(uint8('v'))
	w.put(volumeID)
	if name != "" {
		w.put(uint8('n'))
		w.putString(name)
	}
	w.put(uint8('t'))
	w.put(uint16(2))
	w.put(uint32(0))
	w.put(uint32(0))
	return errors.Trace(w.err)
}

// VolumeHeader writes a volume header record holding the set fields.
func (w *Writer) VolumeHeader(h VolumeHeader) error {
	w.put(uint8(TagVolumeHeader))
	if h.ID != 0 {
		w.put(uint8('i'))
		w.put(h.ID)
	}
	if h.Name != "" {
		w.put(uint8('n'))
		w.putString(h.Name)
	}
	if h.ParentID != 0 {
		w.put(uint8('p'))
		w.put(h.ParentID)
	}
	if h.MaxQuota != 0 {
		w.put(uint8('q'))
		w.put(h.MaxQuota)
	}
	return errors.Trace(w.err)
}

// Close writes the end marker and flushes.
func (w *Writer) Close() error {
	w.put(uint8(TagDumpEnd))
	w.put(uint32(EndMagic))
	if w.err == nil {
		w.err = w.w.Flush()
	}
	return errors.Trace(w.err)
}

// WriteEmpty writes the smallest valid dump of a volume: the begin
// header, volume id and time range, an empty volume header and the
// end marker.
func WriteEmpty(w io.Writer, volumeID uint32) error {
	dw := NewWriter(w)
	if err := dw.DumpHeader(volumeID, ""); err != nil {
		return errors.Trace(err)
	}
	if err := dw.VolumeHeader(VolumeHeader{}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(dw.Close())
}

// CreateEmpty writes an empty dump to path.
func CreateEmpty(path string, volumeID uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err := WriteEmpty(f, volumeID); err != nil {
		f.Close()
		return errors.Annotatef(err, "writing %s", path)
	}
	return errors.Trace(f.Close())
}

// Header is the begin header of a dump.
type Header struct {
	Magic   uint32
	Version uint32
}

// CheckHeader validates the begin header and end marker of a dump
// of the given size.
func CheckHeader(r io.ReaderAt, size int64) (Header, error) {
	if size < headerSize+trailerSize {
		return Header{}, errors.Annotatef(ErrBadDump, "too short (%d bytes)", size)
	}
	buf := make([]byte, headerSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return Header{}, errors.Annotate(err, "reading dump header")
	}
	if buf[0] != TagDumpHeader {
		return Header{}, errors.Annotatef(ErrBadDump, "begin tag %#02x", buf[0])
	}
	header := Header{
		Magic:   binary.BigEndian.Uint32(buf[1:5]),
		Version: binary.BigEndian.Uint32(buf[5:9]),
	}
	if header.Magic != BeginMagic {
		return Header{}, errors.Annotatef(ErrBadDump, "begin magic %#08x", header.Magic)
	}
	if header.Version != DumpVersion {
		return Header{}, errors.Annotatef(ErrBadDump, "version %d", header.Version)
	}
	tail := make([]byte, trailerSize)
	if _, err := r.ReadAt(tail, size-trailerSize); err != nil {
		return Header{}, errors.Annotate(err, "reading dump trailer")
	}
	if tail[0] != TagDumpEnd || binary.BigEndian.Uint32(tail[1:]) != EndMagic {
		return Header{}, errors.Annotatef(ErrBadDump, "missing end marker")
	}
	return header, nil
}

// CheckFile validates the dump at path.
func CheckFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, errors.Trace(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Header{}, errors.Trace(err)
	}
	header, err := CheckHeader(f, info.Size())
	return header, errors.Annotatef(err, "checking %s", path)
}
