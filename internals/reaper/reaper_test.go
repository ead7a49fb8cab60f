// Copyright (c) 2022 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package reaper_test

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/reaper"
)

func Test(t *testing.T) { TestingT(t) }

var _ = Suite(&ReaperSuite{})

type ReaperSuite struct{}

func waitForState(c *C, table *jobtable.Table, slot int, want jobtable.State) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		table.Lock()
		got := table.Job(slot).State
		table.Unlock()
		if got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Fatalf("timed out waiting for job %d to reach state %s", slot, want)
}

func (s *ReaperSuite) TestReapsExitedProcess(c *C) {
	table := jobtable.New()
	r := reaper.Start(table)
	defer r.Stop()

	cmd := exec.Command("true")
	c.Assert(cmd.Start(), IsNil)

	table.Lock()
	table.Add(jobtable.FG, cmd.Process.Pid)
	table.AddProcess(jobtable.FG, cmd.Process.Pid, []string{"true"})
	table.Unlock()

	waitForState(c, table, jobtable.FG, jobtable.Finished)

	state, status := table.FetchAndReap(jobtable.FG)
	c.Check(state, Equals, jobtable.Finished)
	c.Check(reaper.Decode(status), Equals, 0)
}

func (s *ReaperSuite) TestDecodeSignalledProcess(c *C) {
	table := jobtable.New()
	r := reaper.Start(table)
	defer r.Stop()

	cmd := exec.Command("sleep", "100")
	c.Assert(cmd.Start(), IsNil)

	table.Lock()
	table.Add(jobtable.FG, cmd.Process.Pid)
	table.AddProcess(jobtable.FG, cmd.Process.Pid, []string{"sleep", "100"})
	table.Unlock()

	c.Assert(cmd.Process.Signal(syscall.SIGTERM), IsNil)

	waitForState(c, table, jobtable.FG, jobtable.Finished)

	state, status := table.FetchAndReap(jobtable.FG)
	c.Check(state, Equals, jobtable.Finished)
	c.Check(reaper.Decode(status), Equals, int(syscall.SIGTERM))
}

func (s *ReaperSuite) TestStoppedThenContinued(c *C) {
	table := jobtable.New()
	r := reaper.Start(table)
	defer r.Stop()

	cmd := exec.Command("sleep", "100")
	c.Assert(cmd.Start(), IsNil)

	table.Lock()
	table.Add(jobtable.FG, cmd.Process.Pid)
	table.AddProcess(jobtable.FG, cmd.Process.Pid, []string{"sleep", "100"})
	table.Unlock()

	c.Assert(cmd.Process.Signal(syscall.SIGSTOP), IsNil)
	waitForState(c, table, jobtable.FG, jobtable.Stopped)

	c.Assert(cmd.Process.Signal(syscall.SIGCONT), IsNil)
	waitForState(c, table, jobtable.FG, jobtable.Running)

	c.Assert(cmd.Process.Kill(), IsNil)
	waitForState(c, table, jobtable.FG, jobtable.Finished)
	table.FetchAndReap(jobtable.FG)
}
