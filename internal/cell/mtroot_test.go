// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package cell_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/moby/sys/mountinfo"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/cell"
	"github.com/openafs-contrib/afscell/internal/keytab"
	"github.com/openafs-contrib/afscell/internal/testing/fakecell"
)

type mtrootSuite struct {
	baseSuite
}

var _ = gc.Suite(&mtrootSuite{})

func (s *mtrootSuite) newCellCreated(c *gc.C, modify ...func(*cell.Config)) *cell.Cell {
	cl := s.newCell(c, []string{"h1"}, []string{"h1"}, modify...)
	c.Assert(cl.NewCell(s.ctx), jc.ErrorIsNil)
	return cl
}

func (s *mtrootSuite) checkReplicated(c *gc.C, names ...string) {
	for _, name := range names {
		vol, ok := s.fake.Volume(name)
		c.Check(ok, jc.IsTrue, gc.Commentf(name))
		c.Check(vol.ROSites, jc.DeepEquals, []fakecell.Site{{Server: "h1", Partition: "a"}}, gc.Commentf(name))
		c.Check(vol.RO, gc.Not(gc.Equals), uint32(0), gc.Commentf(name))
	}
}

func (s *mtrootSuite) TestMountRoot(c *gc.C) {
	cl := s.newCellCreated(c)
	c.Assert(cl.MountRoot(s.ctx, []string{"test"}), jc.ErrorIsNil)

	c.Assert(s.fake.Mounts(), jc.DeepEquals, map[string]string{
		"/afs/localcell":        "#root.cell",
		"/afs/.localcell":       "%root.cell",
		"/afs/.localcell/.afs":  "%root.afs",
		"/afs/.localcell/test":  "#test",
		"/afs/.localcell/.test": "%test",
	})
	s.checkReplicated(c, "root.afs", "root.cell", "test")
	for _, dir := range []string{"/afs", "/afs/.localcell", "/afs/.localcell/.test"} {
		c.Check(s.fake.ACL(dir), jc.DeepEquals, map[string]string{cell.AnyUser: "rl"}, gc.Commentf(dir))
	}
	c.Assert(s.fake.Matching("fs", "checkvolumes"), gc.HasLen, 1)
}

func (s *mtrootSuite) TestMountRootDynroot(c *gc.C) {
	cl := s.newCellCreated(c, func(config *cell.Config) {
		config.Dynroot = true
	})
	c.Assert(cl.MountRoot(s.ctx, nil), jc.ErrorIsNil)

	c.Assert(s.fake.Mounts(), jc.DeepEquals, map[string]string{
		"/afs/.localcell/.afs":            "%root.afs",
		"/afs/.localcell/.afs/localcell":  "#root.cell",
		"/afs/.localcell/.afs/.localcell": "%root.cell",
	})
	s.checkReplicated(c, "root.afs", "root.cell")
	for _, dir := range []string{"/afs/.localcell/.afs", "/afs/.localcell"} {
		c.Check(s.fake.ACL(dir), jc.DeepEquals, map[string]string{cell.AnyUser: "rl"}, gc.Commentf(dir))
	}
}

func (s *mtrootSuite) TestMountRootIsIdempotent(c *gc.C) {
	cl := s.newCellCreated(c)
	c.Assert(cl.MountRoot(s.ctx, []string{"test"}), jc.ErrorIsNil)
	addsites := len(s.fake.Matching("vos", "addsite"))
	c.Assert(addsites, gc.Equals, 3)

	c.Assert(cl.MountRoot(s.ctx, []string{"test"}), jc.ErrorIsNil)
	c.Assert(s.fake.Matching("vos", "addsite"), gc.HasLen, addsites)
	c.Assert(s.fake.Mounts(), gc.HasLen, 5)
	s.checkReplicated(c, "root.afs", "root.cell", "test")
}

func (s *mtrootSuite) TestReleaseRetriesWithUnlock(c *gc.C) {
	cl := s.newCellCreated(c)
	s.fake.FailNext(2, "Could not lock the VLDB entry for the volume 536870915", "vos", "release", "-id", "root.cell")
	c.Assert(cl.MountRoot(s.ctx, nil), jc.ErrorIsNil)
	c.Assert(s.fake.Matching("vos", "unlock", "-id", "root.cell"), gc.HasLen, 2)
	c.Assert(s.clock.Waits(), gc.HasLen, 2)
}

func (s *mtrootSuite) TestMountRootWrongCell(c *gc.C) {
	cl := s.newCellCreated(c)
	s.fake.ClientCell = "othercell"
	err := cl.MountRoot(s.ctx, nil)
	c.Assert(err, gc.ErrorMatches, `cache manager belongs to cell "othercell", not "localcell"`)
	c.Assert(s.fake.Matching("vos", "addsite"), gc.HasLen, 0)
}

func (s *mtrootSuite) TestMountRootWithoutAFS(c *gc.C) {
	cl := s.newCellCreated(c, func(config *cell.Config) {
		config.Mounts = func() ([]*mountinfo.Info, error) {
			return []*mountinfo.Info{{Mountpoint: "/", FSType: "ext4", Source: "/dev/sda1"}}, nil
		}
	})
	_, err := cl.MountPoint()
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(cl.MountRoot(s.ctx, nil), gc.ErrorMatches, "AFS mount not found")
}

func (s *mtrootSuite) TestMountPointBySource(c *gc.C) {
	cl := s.newCell(c, []string{"h1"}, []string{"h1"}, func(config *cell.Config) {
		config.Mounts = func() ([]*mountinfo.Info, error) {
			return []*mountinfo.Info{
				{Mountpoint: "/", FSType: "ext4"},
				{Mountpoint: "/afs2", Source: "AFS", FSType: "openafs"},
			}, nil
		}
	})
	mount, err := cl.MountPoint()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(mount, gc.Equals, "/afs2")
}

type fakeInstaller struct {
	testing.Stub
}

func (f *fakeInstaller) StopClient(ctx context.Context, host string) error {
	f.AddCall("StopClient", host)
	return f.NextErr()
}

func (f *fakeInstaller) StopServers(ctx context.Context, host string) error {
	f.AddCall("StopServers", host)
	return f.NextErr()
}

func (f *fakeInstaller) Remove(ctx context.Context, host string, purge bool) error {
	f.AddCall("Remove", host, purge)
	return f.NextErr()
}

type teardownSuite struct {
	baseSuite
	installer *fakeInstaller
}

var _ = gc.Suite(&teardownSuite{})

func (s *teardownSuite) SetUpTest(c *gc.C) {
	s.baseSuite.SetUpTest(c)
	s.installer = &fakeInstaller{}
}

func (s *teardownSuite) TestTeardownOrder(c *gc.C) {
	cl := s.newCell(c, []string{"h1", "h2"}, []string{"h2", "h3"}, func(config *cell.Config) {
		config.Installer = s.installer
	})
	c.Assert(cl.Teardown(s.ctx, true), jc.ErrorIsNil)
	s.installer.CheckCalls(c, []testing.StubCall{
		{FuncName: "StopClient", Args: []interface{}{"h1"}},
		{FuncName: "StopClient", Args: []interface{}{"h2"}},
		{FuncName: "StopClient", Args: []interface{}{"h3"}},
		{FuncName: "StopServers", Args: []interface{}{"h1"}},
		{FuncName: "StopServers", Args: []interface{}{"h2"}},
		{FuncName: "StopServers", Args: []interface{}{"h3"}},
		{FuncName: "Remove", Args: []interface{}{"h1", true}},
		{FuncName: "Remove", Args: []interface{}{"h2", true}},
		{FuncName: "Remove", Args: []interface{}{"h3", true}},
	})
}

func (s *teardownSuite) TestTeardownRemovesFakeKeytab(c *gc.C) {
	path := c.MkDir() + "/fake.keytab"
	_, err := keytab.CreateFake(path, keytab.FakeOptions{Cell: "localcell", Realm: "LOCALCELL"})
	c.Assert(err, jc.ErrorIsNil)
	cl := s.newCell(c, []string{"h1"}, []string{"h1"}, func(config *cell.Config) {
		config.Installer = s.installer
		config.Impersonate = true
		config.Keytab = path
	})
	c.Assert(cl.Teardown(s.ctx, false), jc.ErrorIsNil)
	c.Assert(path, jc.DoesNotExist)
	c.Assert(cl.Teardown(s.ctx, false), jc.ErrorIsNil)
}

func (s *teardownSuite) TestTeardownStopsOnError(c *gc.C) {
	s.installer.SetErrors(nil, errors.New("boom"))
	cl := s.newCell(c, []string{"h1", "h2"}, []string{"h1"}, func(config *cell.Config) {
		config.Installer = s.installer
	})
	c.Assert(cl.Teardown(s.ctx, false), gc.ErrorMatches, "boom")
	s.installer.CheckCallNames(c, "StopClient", "StopClient")
}

func (s *teardownSuite) TestTeardownNeedsInstaller(c *gc.C) {
	cl := s.newCell(c, []string{"h1"}, []string{"h1"})
	c.Assert(cl.Teardown(s.ctx, false), jc.ErrorIs, errors.NotValid)
}

func (s *teardownSuite) TestStatus(c *gc.C) {
	cl := s.newCell(c, []string{"h1"}, []string{"h1", "h2"})
	c.Assert(cl.NewCell(s.ctx), jc.ErrorIsNil)

	status, err := cl.Status(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(status, gc.HasLen, 2)
	c.Assert(status[0].Name, gc.Equals, "h1")
	c.Assert(status[0].Cell.Name, gc.Equals, "localcell")
	c.Assert(status[0].SyncSites, jc.DeepEquals, map[string]bool{"ptserver": true, "vlserver": true})
	c.Assert(status[0].Services, gc.HasLen, 3)
	c.Assert(status[1].Name, gc.Equals, "h2")
	c.Assert(status[1].Cell.Hosts, jc.DeepEquals, []string{"h1"})
	c.Assert(status[1].SyncSites, gc.HasLen, 0)
	c.Assert(status[1].Services["dafs"].Status, gc.Equals, afscmd.StatusRunning)

	parms, err := cl.CacheParms(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(parms.SizeKB, gc.Equals, uint64(50000))
}
