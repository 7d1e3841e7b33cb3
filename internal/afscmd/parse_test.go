// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

type parseSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&parseSuite{})

const listHostsOutput = `Cell name is example.com
    Host 1 is db1.example.com
    Host 2 is db2.example.com
`

func (s *parseSuite) TestParseListHosts(c *gc.C) {
	info, err := afscmd.ParseListHosts(listHostsOutput)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(info, jc.DeepEquals, afscmd.CellInfo{
		Name:  "example.com",
		Hosts: []string{"db1.example.com", "db2.example.com"},
	})
}

func (s *parseSuite) TestParseListHostsNoCell(c *gc.C) {
	_, err := afscmd.ParseListHosts("bos: could not find entry\n")
	c.Assert(err, gc.ErrorMatches, `cannot find cell name in bos listhosts output .*`)
}

const statusLongOutput = `Instance ptserver, (type is simple) currently running normally.
    Process last started at Mon Oct 19 10:00:00 2026 (1 proc starts)
    Command 1 is '/usr/afs/bin/ptserver'

Instance vlserver, (type is simple) currently running normally.
    Command 1 is '/usr/afs/bin/vlserver'

Instance dafs, (type is dafs) currently shutdown.
    Auxiliary status is: file server shut down.
    Command 1 is '/usr/afs/bin/dafileserver'
    Command 2 is '/usr/afs/bin/davolserver'
    Command 3 is '/usr/afs/bin/salvageserver'
    Command 4 is '/usr/afs/bin/dasalvager'
`

func (s *parseSuite) TestParseStatusLong(c *gc.C) {
	instances := afscmd.ParseStatusLong(statusLongOutput)
	c.Assert(instances, gc.HasLen, 3)
	c.Check(instances["ptserver"], jc.DeepEquals, afscmd.Instance{
		Name:     "ptserver",
		Type:     "simple",
		Status:   afscmd.StatusRunning,
		Commands: []string{"/usr/afs/bin/ptserver"},
	})
	c.Check(instances["dafs"].Status, gc.Equals, afscmd.StatusShutdown)
	c.Check(instances["dafs"].Commands, gc.HasLen, 4)
}

func (s *parseSuite) TestParseStatusLongEmpty(c *gc.C) {
	c.Assert(afscmd.ParseStatusLong(""), gc.HasLen, 0)
}

func (s *parseSuite) TestParseListUsers(c *gc.C) {
	users := afscmd.ParseListUsers("SUsers are: admin alice\n    bob\nsomething else\n  ignored\n")
	c.Assert(users, jc.DeepEquals, []string{"admin", "alice", "bob"})
}

const listVLDBOutput = `VLDB entries for all servers

root.afs
    RWrite: 536870912     ROnly: 536870913
    number of sites -> 3
       server fs1.example.com partition /vicepa RW Site
       server fs1.example.com partition /vicepa RO Site
       server fs2.example.com partition /vicepb RO Site

root.cell
    RWrite: 536870915
    number of sites -> 1
       server fs1.example.com partition /vicepa RW Site
    Volume is currently LOCKED
    Volume is locked for a release operation

Total entries: 2
`

func (s *parseSuite) TestParseListVLDB(c *gc.C) {
	entries := afscmd.ParseListVLDB(listVLDBOutput)
	c.Assert(entries, gc.HasLen, 2)

	root := entries[0]
	c.Check(root.Name, gc.Equals, "root.afs")
	c.Check(root.RW, gc.Equals, uint32(536870912))
	c.Check(root.RO, gc.Equals, uint32(536870913))
	c.Check(root.RWSite, gc.Equals, afscmd.Site{Server: "fs1.example.com", Partition: "a"})
	c.Check(root.HasROSite("fs2.example.com", "b"), jc.IsTrue)
	c.Check(root.HasROSite("fs2.example.com", "a"), jc.IsFalse)
	c.Check(root.Locked, jc.IsFalse)

	cell := entries[1]
	c.Check(cell.RO, gc.Equals, uint32(0))
	c.Check(cell.Locked, jc.IsTrue)
	c.Check(cell.LockOperation, gc.Equals, "release")
}

func (s *parseSuite) TestParseListVol(c *gc.C) {
	output := `Total number of volumes on server fs1 partition /vicepa: 2
root.afs                          536870912 RW          6 K On-line
root.afs.readonly                 536870913 RO          6 K On-line

Total volumes onLine 2 ; Total volumes offLine 0 ; Total busy 0
`
	headers := afscmd.ParseListVol(output)
	c.Assert(headers, jc.DeepEquals, []afscmd.VolumeHeader{
		{Name: "root.afs", ID: 536870912, Type: "RW", SizeKB: 6, Status: "On-line"},
		{Name: "root.afs.readonly", ID: 536870913, Type: "RO", SizeKB: 6, Status: "On-line"},
	})
}

func (s *parseSuite) TestParseListPart(c *gc.C) {
	output := "The partitions on the server are:\n    /vicepa     /vicepb     /vicepaa\nTotal: 3\n"
	c.Assert(afscmd.ParseListPart(output), jc.DeepEquals, []string{"a", "b", "aa"})
}

func (s *parseSuite) TestPartitionLetter(c *gc.C) {
	for _, in := range []string{"a", "vicepa", "/vicepa"} {
		c.Check(afscmd.PartitionLetter(in), gc.Equals, "a")
	}
}

func (s *parseSuite) TestParseListEntries(c *gc.C) {
	output := "Name                          ID  Owner Creator\nanonymous                  32766   -204    -204 \nadmin                          1   -204  32766 \n"
	c.Assert(afscmd.ParseListEntries(output), jc.DeepEquals, []afscmd.PTSEntry{
		{Name: "anonymous", ID: 32766, Owner: -204, Creator: -204},
		{Name: "admin", ID: 1, Owner: -204, Creator: 32766},
	})
}

func (s *parseSuite) TestParseMembership(c *gc.C) {
	output := "Members of system:administrators (id: -204) are:\n  admin\n  alice\n"
	c.Assert(afscmd.ParseMembership(output), jc.DeepEquals, []string{"admin", "alice"})
	output = "Groups admin (id: 1) is a member of:\n  system:administrators\n"
	c.Assert(afscmd.ParseMembership(output), jc.DeepEquals, []string{"system:administrators"})
}

func (s *parseSuite) TestParseWSCell(c *gc.C) {
	cell, err := afscmd.ParseWSCell("This workstation belongs to cell 'example.com'\n")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cell, gc.Equals, "example.com")

	_, err = afscmd.ParseWSCell("fs: not in AFS\n")
	c.Assert(err, gc.NotNil)
}

func (s *parseSuite) TestParseExamine(c *gc.C) {
	output := `File /afs/example.com (536870912.1.1) contained in volume 536870912
Volume status for vid = 536870912 named root.cell
Current disk quota is 5000
`
	examine, err := afscmd.ParseExamine(output)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(examine, jc.DeepEquals, afscmd.Examine{
		Path:       "/afs/example.com",
		FID:        "536870912.1.1",
		VolumeID:   536870912,
		VolumeName: "root.cell",
	})
}

func (s *parseSuite) TestParseCacheParms(c *gc.C) {
	parms, err := afscmd.ParseCacheParms("AFS using 1024 of the cache's available 50000 1K byte blocks.\n")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(parms, gc.Equals, afscmd.CacheParms{UsedKB: 1024, SizeKB: 50000})
}

func (s *parseSuite) TestParseUdebug(c *gc.C) {
	for i, test := range []struct {
		output    string
		recovered bool
		syncSite  bool
	}{{
		output:    "I am sync site until 58 secs from now\nRecovery state 1f\nLocal db version is 1700000000.5\n",
		recovered: true,
		syncSite:  true,
	}, {
		output:   "I am sync site until 58 secs from now\nRecovery state 3\n",
		syncSite: true,
	}, {
		output: "I am not sync site\nLowest host 10.0.0.1 at 1700000000\nRecovery state f\n",
	}, {
		output:    "I am sync site forever (1 server)\nRecovery state f\n",
		recovered: true,
		syncSite:  true,
	}, {
		output:   "****clock may be bad\nI am sync site until 58 secs from now\nRecovery state 1f\n",
		syncSite: true,
	}} {
		c.Logf("test %d", i)
		status := afscmd.ParseUdebug(test.output)
		c.Check(status.SyncSite, gc.Equals, test.syncSite)
		c.Check(status.Recovered(), gc.Equals, test.recovered)
	}
}

func (s *parseSuite) TestParseUdebugClockWarning(c *gc.C) {
	status := afscmd.ParseUdebug("****clock may be bad\nLocal db version is 1.2\n")
	c.Assert(status.ClockWarning, jc.IsTrue)
	c.Assert(status.DBVersion, gc.Equals, "1.2")
}

func (s *parseSuite) TestParseRxVersion(c *gc.C) {
	version, err := afscmd.ParseRxVersion("Trying 10.0.0.1 (port 7000):\nAFS version:  OpenAFS 1.8.10 2023-07-05 builder\n")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(version, gc.Equals, "OpenAFS 1.8.10 2023-07-05 builder")

	_, err = afscmd.ParseRxVersion("rxdebug: error")
	c.Assert(err, gc.ErrorMatches, "cannot parse rxdebug output .*")
}

func (s *parseSuite) TestServicePort(c *gc.C) {
	port, err := afscmd.ServicePort("vlserver")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(port, gc.Equals, 7003)
	_, err = afscmd.ServicePort("buserver")
	c.Assert(err, gc.ErrorMatches, `port for service "buserver" not found`)
}
