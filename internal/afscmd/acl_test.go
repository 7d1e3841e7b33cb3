// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd_test

import (
	"strings"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/afscmd"
)

type aclSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&aclSuite{})

func (s *aclSuite) TestParseRights(c *gc.C) {
	for i, test := range []struct {
		in   string
		want afscmd.Rights
		err  string
	}{
		{in: "lr", want: "rl"},
		{in: "all", want: "rlidwka"},
		{in: "write", want: "rlidwk"},
		{in: "read", want: "rl"},
		{in: "none", want: ""},
		{in: "aAr", want: "raA"},
		{in: "rz", err: `access right "z" in "rz" not valid`},
	} {
		c.Logf("test %d: %q", i, test.in)
		got, err := afscmd.ParseRights(test.in)
		if test.err != "" {
			c.Check(err, gc.ErrorMatches, test.err)
			continue
		}
		c.Check(err, jc.ErrorIsNil)
		c.Check(got, gc.Equals, test.want)
	}
}

func (s *aclSuite) TestRootACLRoundTrip(c *gc.C) {
	acl := afscmd.NewACL()
	c.Assert(acl.Add("system:administrators", "rlidwka"), jc.ErrorIsNil)
	c.Assert(acl.Add("system:anyuser", "rl"), jc.ErrorIsNil)

	text := acl.String()
	c.Assert(text, gc.Equals, "system:administrators rlidwka,system:anyuser rl")

	parsed, err := afscmd.FromArgs(strings.Split(text, ",")...)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(parsed.Equal(acl), jc.IsTrue)
	c.Assert(parsed.Contains("system:anyuser", "+rl"), jc.IsTrue)
	c.Assert(parsed.Contains("system:anyuser", "w"), jc.IsFalse)
}

func (s *aclSuite) TestNegativeRights(c *gc.C) {
	acl := afscmd.NewACL()
	c.Assert(acl.Add("alice", "-w"), jc.ErrorIsNil)
	c.Assert(acl.Contains("alice", "-w"), jc.IsTrue)
	c.Assert(acl.Contains("alice", "w"), jc.IsFalse)
	c.Assert(acl.String(), gc.Equals, "alice -w")

	c.Assert(acl.Add("alice", "-"), jc.ErrorIsNil)
	c.Assert(acl.String(), gc.Equals, "")
}

func (s *aclSuite) TestFromArgsRejectsMalformed(c *gc.C) {
	_, err := afscmd.FromArgs("alice")
	c.Assert(err, gc.ErrorMatches, `ACL entry "alice" not valid`)

	acl, err := afscmd.FromArgs("")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(acl.String(), gc.Equals, "")
}

func (s *aclSuite) TestParseListACL(c *gc.C) {
	output := `Access list for /afs/.example.com is
Normal rights:
  system:administrators rlidwka
  system:anyuser rl
Negative rights:
  mallory rlidwka
`
	acl, err := afscmd.ParseListACL(output)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(acl.Contains("system:administrators", "all"), jc.IsTrue)
	c.Assert(acl.Contains("system:anyuser", "read"), jc.IsTrue)
	c.Assert(acl.Contains("mallory", "-rlidwka"), jc.IsTrue)

	_, err = afscmd.ParseListACL("fs: no such file\n")
	c.Assert(err, gc.NotNil)
}
