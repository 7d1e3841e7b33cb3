// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package afscmd_test

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/openafs-contrib/afscell/internal/afscmd"
	"github.com/openafs-contrib/afscell/internal/runner"
	afstesting "github.com/openafs-contrib/afscell/internal/testing"
)

type clientSuite struct {
	testing.IsolationSuite

	exec  *fakeExecutor
	clock *afstesting.Clock
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.exec = &fakeExecutor{}
	s.clock = afstesting.NewClock(time.Time{})
}

func (s *clientSuite) client(localAuth bool) *afscmd.Client {
	return afscmd.New(afscmd.Config{
		Executor:  s.exec,
		Host:      "fs1.example.com",
		LocalAuth: localAuth,
		Clock:     s.clock,
	})
}

func (s *clientSuite) TestDefaultHost(c *gc.C) {
	client := afscmd.New(afscmd.Config{Executor: s.exec})
	c.Assert(client.Host(), gc.Equals, "localhost")
	c.Assert(client.OnHost("db2").Host(), gc.Equals, "db2")
	c.Assert(client.Host(), gc.Equals, "localhost")
}

func (s *clientSuite) TestLocalAuthAppended(c *gc.C) {
	client := s.client(true)
	_, err := client.Run(context.Background(), afscmd.NoRetry, "bos", "listhosts", "-server", "db1")
	c.Assert(err, jc.ErrorIsNil)
	_, err = client.Run(context.Background(), afscmd.NoRetry, "fs", "wscell")
	c.Assert(err, jc.ErrorIsNil)
	_, err = client.WithLocalAuth(false).Run(context.Background(), afscmd.NoRetry, "vos", "listvldb")
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{
		{"bos", "listhosts", "-server", "db1", "-localauth"},
		{"fs", "wscell"},
		{"vos", "listvldb"},
	})
	s.exec.CheckCall(c, 0, "Execute", "fs1.example.com", []string{"bos", "listhosts", "-server", "db1", "-localauth"})
}

func (s *clientSuite) TestRunJoinsOutput(c *gc.C) {
	s.exec.respond("one\ntwo")
	out, err := s.client(false).Run(context.Background(), afscmd.NoRetry, "tokens")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, gc.Equals, "one\ntwo")
}

func (s *clientSuite) TestRetryUntilSuccess(c *gc.C) {
	s.exec.fail(1, "quorum not ready").fail(1, "quorum not ready").respond("done")
	cleanups := 0
	policy := afscmd.Policy{
		Retries:   5,
		Delay:     10 * time.Second,
		OnFailure: func(context.Context) { cleanups++ },
	}
	out, err := s.client(false).Run(context.Background(), policy, "vos", "release", "-id", "root.afs")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(out, gc.Equals, "done")
	c.Assert(cleanups, gc.Equals, 2)
	c.Assert(s.exec.Calls(), gc.HasLen, 3)
	c.Assert(s.clock.Waits(), jc.DeepEquals, []time.Duration{10 * time.Second, 10 * time.Second})
}

func (s *clientSuite) TestRetryExhausted(c *gc.C) {
	s.exec.fail(1, "first").fail(1, "second").fail(1, "last")
	cleanups := 0
	policy := afscmd.Policy{
		Retries:   2,
		OnFailure: func(context.Context) { cleanups++ },
	}
	_, err := s.client(false).Run(context.Background(), policy, "vos", "addsite")
	c.Assert(errors.Is(err, runner.ErrCommandFailed), jc.IsTrue)
	failed, ok := runner.AsCommandFailed(err)
	c.Assert(ok, jc.IsTrue)
	c.Assert(failed.Output(), gc.Equals, "last")
	// Cleanup only runs between attempts.
	c.Assert(cleanups, gc.Equals, 2)
	c.Assert(s.clock.Elapsed(), gc.Equals, 2*time.Second)
}

func (s *clientSuite) TestTransportErrorIsNotRetried(c *gc.C) {
	s.exec.responses = append(s.exec.responses, response{err: errors.New("connection refused")})
	_, err := s.client(false).Run(context.Background(), afscmd.Policy{Retries: 5}, "vos", "listvldb")
	c.Assert(err, gc.ErrorMatches, "connection refused")
	c.Assert(s.exec.Calls(), gc.HasLen, 1)
}

func (s *clientSuite) TestNoSuchEntryTranslated(c *gc.C) {
	s.exec.fail(1, "VLDB: no such entry")
	_, err := s.client(false).ListVLDB(context.Background(), "root.cell")
	c.Assert(errors.Is(err, runner.ErrNoSuchEntry), jc.IsTrue)
	c.Assert(errors.Is(err, runner.ErrCommandFailed), jc.IsTrue)
}

func (s *clientSuite) TestNoSuchEntryOnlyForVos(c *gc.C) {
	s.exec.fail(1, "does not exist")
	_, err := s.client(false).Run(context.Background(), afscmd.NoRetry, "bos", "status")
	c.Assert(errors.Is(err, runner.ErrCommandFailed), jc.IsTrue)
	c.Assert(errors.Is(err, runner.ErrNoSuchEntry), jc.IsFalse)
}

func (s *clientSuite) TestIsAlreadyExists(c *gc.C) {
	s.exec.fail(1, "pts: Entry for name already exists ; unable to create user admin")
	err := s.client(false).CreateUser(context.Background(), "admin")
	c.Assert(afscmd.IsAlreadyExists(err), jc.IsTrue)
	c.Assert(afscmd.IsAlreadyExists(errors.New("already exists")), jc.IsFalse)
}

func (s *clientSuite) TestUnlockOnFailureIgnoresErrors(c *gc.C) {
	s.exec.fail(1, "not locked")
	s.client(false).UnlockOnFailure("root.afs")(context.Background())
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{{"vos", "unlock", "-id", "root.afs"}})
}

func (s *clientSuite) TestASetKeyUsageFromFailure(c *gc.C) {
	s.exec.fail(1, "usage: asetkey add <kvno> <keyfile> <princ>\n        asetkey add <type> <kvno> <subtype> <keyfile> <princ>\n rxkad_krb5")
	usage, err := s.client(false).ASetKeyUsage(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(afscmd.SupportsKeyFileExt(usage), jc.IsTrue)
}

func (s *clientSuite) TestASetKeyAdd(c *gc.C) {
	client := s.client(false)
	err := client.ASetKeyAdd(context.Background(), true, 3, 18, "/tmp/k.keytab", "afs/example.com@EXAMPLE.COM")
	c.Assert(err, jc.ErrorIsNil)
	err = client.ASetKeyAdd(context.Background(), false, 3, 1, "/tmp/k.keytab", "afs/example.com@EXAMPLE.COM")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{
		{"asetkey", "add", "rxkad_krb5", "3", "18", "/tmp/k.keytab", "afs/example.com@EXAMPLE.COM"},
		{"asetkey", "add", "3", "/tmp/k.keytab", "afs/example.com@EXAMPLE.COM"},
	})
}

func (s *clientSuite) TestAklogWithKeytab(c *gc.C) {
	err := s.client(false).Aklog(context.Background(), "example.com", "EXAMPLE.COM", "/tmp/fake.keytab", "admin")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{
		{"aklog", "-d", "-c", "example.com", "-k", "EXAMPLE.COM", "-keytab", "/tmp/fake.keytab", "-principal", "admin"},
	})
}

func (s *clientSuite) TestCreateMultipleCommands(c *gc.C) {
	err := s.client(true).Create(context.Background(), "fs1", "dafs", "dafs",
		"/usr/afs/bin/dafileserver", "/usr/afs/bin/davolserver", "/usr/afs/bin/salvageserver", "/usr/afs/bin/dasalvager")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{{
		"bos", "create", "-server", "fs1", "-instance", "dafs", "-type", "dafs", "-cmd",
		"/usr/afs/bin/dafileserver", "/usr/afs/bin/davolserver", "/usr/afs/bin/salvageserver", "/usr/afs/bin/dasalvager",
		"-localauth",
	}})
}

func (s *clientSuite) TestMkMountFlags(c *gc.C) {
	err := s.client(false).MkMount(context.Background(), "/afs/.example.com", "root.cell", true, "example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{
		{"fs", "mkmount", "-dir", "/afs/.example.com", "-vol", "root.cell", "-cell", "example.com", "-rw"},
	})
}

func (s *clientSuite) TestUdebugPort(c *gc.C) {
	s.exec.respond("Host's addresses are: 10.0.0.1\nI am sync site until 58 secs from now (at 12:00:00)\nRecovery state 1f\n")
	status, err := s.client(false).Udebug(context.Background(), "db1", afscmd.PortVLServer)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(status.Recovered(), jc.IsTrue)
	c.Assert(s.exec.argvs(), jc.DeepEquals, [][]string{{"udebug", "-server", "db1", "-port", "7003"}})
}
