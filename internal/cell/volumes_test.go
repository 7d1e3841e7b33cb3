// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell_test

import (
	"strings"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/cell"
)

type volumesSuite struct {
	mtrootSuite
}

var _ = gc.Suite(&volumesSuite{})

func (s *volumesSuite) TestVolumes(c *gc.C) {
	cl := s.newCellCreated(c)
	entries, err := cl.Volumes(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	c.Assert(names, jc.DeepEquals, []string{"root.afs", "root.cell"})
}

func (s *volumesSuite) TestUnmountVolume(c *gc.C) {
	cl := s.newCellCreated(c)
	c.Assert(cl.MountRoot(s.ctx, []string{"test"}), jc.ErrorIsNil)
	releases := len(s.fake.Matching("vos", "release", "-id", "root.cell"))

	c.Assert(cl.UnmountVolume(s.ctx, "test"), jc.ErrorIsNil)
	_, ok := s.fake.Volume("test")
	c.Assert(ok, jc.IsFalse)
	c.Assert(s.fake.Mounts(), gc.HasLen, 3)
	c.Assert(s.fake.Matching("vos", "release", "-id", "root.cell"), gc.HasLen, releases+1)

	// Gone already: still fine.
	c.Assert(cl.UnmountVolume(s.ctx, "test"), jc.ErrorIsNil)
}

func (s *volumesSuite) TestUnmountRootVolumeRefused(c *gc.C) {
	cl := s.newCellCreated(c)
	err := cl.UnmountVolume(s.ctx, "root.cell")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *volumesSuite) TestCheckRoot(c *gc.C) {
	cl := s.newCellCreated(c)
	c.Assert(cl.MountRoot(s.ctx, nil), jc.ErrorIsNil)
	checks, err := cl.CheckRoot(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(checks, jc.DeepEquals, []cell.MountCheck{
		{Path: "/afs/localcell", Want: "root.cell.readonly", Got: "root.cell.readonly", OK: true},
		{Path: "/afs/.localcell", Want: "root.cell", Got: "root.cell", OK: true},
		{Path: "/afs/.localcell/.afs", Want: "root.afs", Got: "root.afs", OK: true},
	})
}

func (s *volumesSuite) TestCheckRootBeforeMountRoot(c *gc.C) {
	cl := s.newCellCreated(c)
	checks, err := cl.CheckRoot(s.ctx)
	c.Assert(err, gc.ErrorMatches, `/afs does not grant system:anyuser read and list`)
	c.Assert(checks, gc.HasLen, 3)
	for _, check := range checks {
		c.Check(check.OK, jc.IsFalse)
		c.Check(check.Got, gc.Equals, "")
	}
}

func (s *volumesSuite) TestTokens(c *gc.C) {
	cl := s.newCellCreated(c)
	out, err := cl.Tokens(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(strings.Contains(out, "tokens for localcell"), jc.IsFalse)

	c.Assert(cl.Login(s.ctx, "admin"), jc.ErrorIsNil)
	out, err = cl.Tokens(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, jc.Contains, "tokens for localcell")

	c.Assert(cl.Logout(s.ctx), jc.ErrorIsNil)
	out, err = cl.Tokens(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, gc.Not(jc.Contains), "tokens for localcell")
}
