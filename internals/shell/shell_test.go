// Copyright (c) 2026 Job Shell Contributors
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

// Internal-package tests: Shell's fields are unexported and shutdown is
// never meant to be called from outside Run, so these tests construct a
// Shell directly via assemble and call shutdown directly, rather than
// growing the public API purely to make it reachable from shell_test.
package shell

import (
	"bytes"
	"strings"
	"testing"
	"time"

	xterm "golang.org/x/term"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/job-shell/jsh/internals/config"
	"github.com/job-shell/jsh/internals/jobtable"
)

// fakeTerminal is an in-memory stand-in for termctl.Controller, the same
// shape fgmonitor's own tests use, extended with the shutdown-time calls
// Terminal adds.
type fakeTerminal struct {
	fg        int
	shellPgid int
	restored  bool
	closed    bool
}

func (f *fakeTerminal) Foreground() (int, error)         { return f.fg, nil }
func (f *fakeTerminal) SetForeground(pgid int) error     { f.fg = pgid; return nil }
func (f *fakeTerminal) Snapshot() (*xterm.State, error)  { return &xterm.State{}, nil }
func (f *fakeTerminal) Restore(modes *xterm.State) error { return nil }
func (f *fakeTerminal) ShellPgid() int                   { return f.shellPgid }
func (f *fakeTerminal) ShellModes() *xterm.State         { return &xterm.State{} }
func (f *fakeTerminal) RestoreShell() error {
	f.fg = f.shellPgid
	f.restored = true
	return nil
}
func (f *fakeTerminal) Close() error { f.closed = true; return nil }

func newTestShell(table *jobtable.Table) (*Shell, *fakeTerminal, *bytes.Buffer) {
	term := &fakeTerminal{shellPgid: 1}
	var out bytes.Buffer
	sh := assemble(table, term, config.Default(), strings.NewReader(""), &out, &out)
	return sh, term, &out
}

// addStopped registers a job at slot with one stopped process, the state
// fg/bg act on.
func addStopped(table *jobtable.Table, slot, pgid int, argv []string) {
	table.Lock()
	if slot >= table.Len() {
		table.AllocBackground()
	}
	table.Add(slot, pgid)
	table.AddProcess(slot, pgid, argv)
	job := table.Job(slot)
	job.State = jobtable.Stopped
	job.Procs[0].State = jobtable.Stopped
	table.Unlock()
}

func TestResumeBackgroundDoesNotBlockOnStoppedJob(t *testing.T) {
	table := jobtable.New()
	addStopped(table, jobtable.BG, 4242, []string{"sleep", "100"})
	sh, _, out := newTestShell(table)
	defer sh.reaper.Stop()

	done := make(chan error, 1)
	go func() { done <- sh.Resume(jobtable.BG, true) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Resume(background=true) blocked on a stopped job instead of returning immediately")
	}

	assert.Contains(t, out.String(), "continue")

	table.Lock()
	defer table.Unlock()
	assert.Equal(t, 4242, table.Job(jobtable.BG).Pgid,
		"bg resume must not have moved the job out of its slot")
}

func TestResumeForegroundWaitsForContinueThenMonitors(t *testing.T) {
	table := jobtable.New()
	addStopped(table, jobtable.BG, 4343, []string{"sleep", "100"})
	sh, term, out := newTestShell(table)
	defer sh.reaper.Stop()

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.Lock()
		fg := table.Job(jobtable.FG)
		fg.State = jobtable.Running
		fg.Procs[0].State = jobtable.Running
		table.Broadcast()
		table.Unlock()

		time.Sleep(20 * time.Millisecond)
		table.Lock()
		fg = table.Job(jobtable.FG)
		fg.State = jobtable.Finished
		fg.Procs[0].State = jobtable.Finished
		fg.Procs[0].ExitStatus = 0
		table.Broadcast()
		table.Unlock()
	}()

	done := make(chan error, 1)
	go func() { done <- sh.Resume(jobtable.BG, false) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Resume(background=false) did not return once the job finished")
	}

	assert.Contains(t, out.String(), "continue")
	assert.Equal(t, term.shellPgid, term.fg, "terminal must be handed back to the shell once the fg job is gone")

	table.Lock()
	defer table.Unlock()
	assert.Equal(t, 0, table.Job(jobtable.FG).Pgid, "FG slot must be freed once the resumed job finishes")
}

func TestKillRejectsUnknownSlot(t *testing.T) {
	table := jobtable.New()
	sh, _, _ := newTestShell(table)
	defer sh.reaper.Stop()

	err := sh.Kill(jobtable.BG)
	assert.Error(t, err)
}

func TestKillSignalsRunningJob(t *testing.T) {
	table := jobtable.New()
	table.Lock()
	table.AllocBackground()
	table.Add(jobtable.BG, 5555)
	table.AddProcess(jobtable.BG, 5555, []string{"sleep", "100"})
	table.Unlock()
	sh, _, _ := newTestShell(table)
	defer sh.reaper.Stop()

	require.NoError(t, sh.Kill(jobtable.BG))

	text, err := sh.metrics.Dump()
	require.NoError(t, err)
	assert.Contains(t, text, "jsh_jobs_killed_total 1")
}

// TestShutdownIgnoresAlreadyFreeSlots checks that shutdown skips free
// slots (zero pgid): with no live jobs at all, shutdown must be a silent
// no-op beyond handing the terminal back and closing it.
func TestShutdownIgnoresAlreadyFreeSlots(t *testing.T) {
	table := jobtable.New()
	sh, term, out := newTestShell(table)

	sh.shutdown()

	assert.Empty(t, out.String(), "shutdown must not report anything for a table with no live jobs")
	assert.True(t, term.restored)
	assert.True(t, term.closed)
}

func TestShutdownReportsAndFreesLiveStoppedJob(t *testing.T) {
	table := jobtable.New()
	addStopped(table, jobtable.BG, 6666, []string{"sleep", "100"})
	sh, _, out := newTestShell(table)

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.Lock()
		job := table.Job(jobtable.BG)
		job.State = jobtable.Finished
		job.Procs[0].State = jobtable.Finished
		job.Procs[0].ExitStatus = 0
		table.Broadcast()
		table.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		sh.shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not drain the live job")
	}

	assert.Contains(t, out.String(), "exited")

	table.Lock()
	defer table.Unlock()
	assert.Equal(t, 0, table.Job(jobtable.BG).Pgid, "shutdown must free the job once it reports it")
}
