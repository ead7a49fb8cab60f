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

// Package fgmonitor blocks the shell until the foreground job stops or
// finishes, migrating a stopped foreground job to the background and
// always handing the terminal back to the shell before returning.
package fgmonitor

import (
	"fmt"

	xterm "golang.org/x/term"

	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/reaper"
)

// Reporter prints job reports in the format the background reporter and
// resume/kill operations use (see internals/shell).
type Reporter interface {
	Suspended(slot int, cmd string)
}

// Terminal is the slice of termctl.Controller that the monitor needs.
// Accepting an interface here (rather than *termctl.Controller directly)
// lets tests drive the monitor without a real controlling terminal.
type Terminal interface {
	Foreground() (int, error)
	SetForeground(pgid int) error
	Snapshot() (*xterm.State, error)
	Restore(modes *xterm.State) error
	ShellPgid() int
	ShellModes() *xterm.State
}

// Monitor blocks until the job in the FG slot leaves the RUNNING state,
// then returns the exit code the shell should report for this command.
//
// Precondition: the FG slot holds a job whose process group exists.
func Monitor(table *jobtable.Table, term Terminal, report Reporter) int {
	table.Lock()

	fg := table.Job(jobtable.FG)
	if cur, err := term.Foreground(); err != nil || cur != fg.Pgid {
		term.SetForeground(fg.Pgid)
		term.Restore(fg.SavedModes)
	}

	for fg.State == jobtable.Running {
		table.Wait()
		fg = table.Job(jobtable.FG) // re-fetch: a Move could have run under the same lock
	}

	state := fg.State
	exitCode := 0

	switch state {
	case jobtable.Stopped:
		modes, _ := term.Snapshot()
		fg.SavedModes = modes
		slot := table.AllocBackground()
		table.Move(jobtable.FG, slot)
		cmd := table.Job(slot).Command
		table.Unlock()
		if report != nil {
			report.Suspended(slot, cmd)
		}
	case jobtable.Finished:
		status := unknownStatus
		if n := len(fg.Procs); n > 0 {
			status = fg.Procs[n-1].ExitStatus
		}
		exitCode = reaper.Decode(status)
		table.Free(jobtable.FG)
		table.Unlock()
	default:
		table.Unlock()
		panic(fmt.Sprintf("fgmonitor: unexpected foreground state %s", state))
	}

	term.SetForeground(term.ShellPgid())
	term.Restore(term.ShellModes())

	return exitCode
}

const unknownStatus = -1
