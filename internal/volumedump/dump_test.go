// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package volumedump_test

import (
	"bytes"
	"os"
	"path/filepath"
	stdtesting "testing"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/volumedump"
)

func Test(t *stdtesting.T) {
	gc.TestingT(t)
}

type dumpSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&dumpSuite{})

func (s *dumpSuite) TestWriteEmptyBytes(c *gc.C) {
	var buf bytes.Buffer
	c.Assert(volumedump.WriteEmpty(&buf, 536870999), jc.ErrorIsNil)
	c.Assert(buf.Bytes(), jc.DeepEquals, []byte{
		0x01, 0xb3, 0xa1, 0x13, 0x22, 0x00, 0x00, 0x00, 0x01,
		'v', 0x20, 0x00, 0x00, 0x57,
		't', 0x00, 0x02, 0, 0, 0, 0, 0, 0, 0, 0,
		0x02,
		0x04, 0x3a, 0x21, 0x4b, 0x6e,
	})
}

func (s *dumpSuite) TestEmptyDumpPassesCheck(c *gc.C) {
	path := filepath.Join(c.MkDir(), "empty.dump")
	c.Assert(volumedump.CreateEmpty(path, 536870999), jc.ErrorIsNil)

	header, err := volumedump.CheckFile(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(header, gc.Equals, volumedump.Header{Magic: volumedump.BeginMagic, Version: 1})

	c.Assert(os.Truncate(path, 8), jc.ErrorIsNil)
	_, err = volumedump.CheckFile(path)
	c.Assert(err, jc.ErrorIs, volumedump.ErrBadDump)
	c.Assert(err, gc.ErrorMatches, `checking .*: too short \(8 bytes\): bad volume dump`)
}

func (s *dumpSuite) TestCheckRejects(c *gc.C) {
	var good bytes.Buffer
	c.Assert(volumedump.WriteEmpty(&good, 1), jc.ErrorIsNil)

	for i, test := range []struct {
		mutate func([]byte) []byte
		err    string
	}{{
		mutate: func(b []byte) []byte { b[0] = 2; return b },
		err:    "begin tag 0x02: bad volume dump",
	}, {
		mutate: func(b []byte) []byte { b[1] = 0; return b },
		err:    "begin magic 0x00a11322: bad volume dump",
	}, {
		mutate: func(b []byte) []byte { b[8] = 2; return b },
		err:    "version 2: bad volume dump",
	}, {
		mutate: func(b []byte) []byte { return b[:len(b)-1] },
		err:    "missing end marker: bad volume dump",
	}} {
		c.Logf("test %d", i)
		data := test.mutate(append([]byte(nil), good.Bytes()...))
		_, err := volumedump.CheckHeader(bytes.NewReader(data), int64(len(data)))
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *dumpSuite) TestReadEmpty(c *gc.C) {
	var buf bytes.Buffer
	c.Assert(volumedump.WriteEmpty(&buf, 536870999), jc.ErrorIsNil)
	dump, err := volumedump.Read(&buf)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(dump.Magic, gc.Equals, uint32(volumedump.BeginMagic))
	c.Assert(dump.Version, gc.Equals, uint32(1))
	c.Assert(dump.VolumeID, gc.Equals, uint32(536870999))
	c.Assert(dump.From, jc.DeepEquals, []uint32{0})
	c.Assert(dump.To, jc.DeepEquals, []uint32{0})
	c.Assert(dump.Vnodes, gc.HasLen, 0)
}

func (s *dumpSuite) TestReadNamedHeader(c *gc.C) {
	var buf bytes.Buffer
	w := volumedump.NewWriter(&buf)
	c.Assert(w.DumpHeader(536870999, "test"), jc.ErrorIsNil)
	c.Assert(w.VolumeHeader(volumedump.VolumeHeader{ID: 536870999, Name: "test", ParentID: 536870999, MaxQuota: 5000}), jc.ErrorIsNil)
	c.Assert(w.Close(), jc.ErrorIsNil)

	dump, err := volumedump.Read(&buf)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(dump.VolumeName, gc.Equals, "test")
	c.Assert(dump.Volume, jc.DeepEquals, volumedump.VolumeHeader{
		ID: 536870999, Name: "test", ParentID: 536870999, MaxQuota: 5000,
	})
}

func (s *dumpSuite) TestReadVnode(c *gc.C) {
	data := []byte{
		0x01, 0xb3, 0xa1, 0x13, 0x22, 0, 0, 0, 1,
		'v', 0, 0, 0, 7,
		0x02,
		'i', 0, 0, 0, 7,
		's', 1,
		0x03, 0, 0, 0, 1, 0, 0, 0, 1,
		't', 2,
		'v', 0, 0, 0, 3,
		'l', 0, 2,
		'f', 0, 0, 0, 3, 'a', 'b', 'c',
		0x04, 0x3a, 0x21, 0x4b, 0x6e,
	}
	dump, err := volumedump.Read(bytes.NewReader(data))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(dump.Volume.ID, gc.Equals, uint32(7))
	c.Assert(dump.Volume.Other, jc.DeepEquals, map[byte]uint32{'s': 1})
	c.Assert(dump.Vnodes, jc.DeepEquals, []volumedump.Vnode{{
		Number: 1, Uniquifier: 1, Type: 2, DataVersion: 3, Length: 3,
	}})
}

func (s *dumpSuite) TestReadTruncated(c *gc.C) {
	var buf bytes.Buffer
	c.Assert(volumedump.WriteEmpty(&buf, 1), jc.ErrorIsNil)
	data := buf.Bytes()
	for _, n := range []int{0, 5, 12, len(data) - 2, len(data) - 5} {
		_, err := volumedump.Read(bytes.NewReader(data[:n]))
		c.Check(err, jc.ErrorIs, volumedump.ErrBadDump, gc.Commentf("%d bytes", n))
	}
}

func (s *dumpSuite) TestReadUnknownTag(c *gc.C) {
	data := []byte{0x01, 0xb3, 0xa1, 0x13, 0x22, 0, 0, 0, 1, 'X'}
	_, err := volumedump.Read(bytes.NewReader(data))
	c.Assert(err, gc.ErrorMatches, `unknown dump header tag 'X': bad volume dump`)
}
