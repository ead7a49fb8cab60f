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

// Package reaper is the shell's status reaper: it consumes child-status
// notifications and turns them into process and job-table state
// transitions.
//
// Go has no true async-signal-handler context: os/signal.Notify delivers
// SIGCHLD over a channel drained by a dedicated goroutine, so there is no
// ambient errno to preserve the way a C signal handler would. What the
// goroutine still owes the rest of the shell is the non-blocking, drain-
// to-exhaustion polling loop and the race-free handoff to waiters, and
// that is what reapOnce and the job table's condition variable provide.
package reaper

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/logger"
)

// Reaper drains SIGCHLD notifications and updates a job table until
// stopped.
type Reaper struct {
	table *jobtable.Table
	tomb  tomb.Tomb
}

// Start creates and starts a reaper for the given table.
func Start(table *jobtable.Table) *Reaper {
	r := &Reaper{table: table}
	r.tomb.Go(r.run)
	return r
}

// Stop stops the reaper and waits for its goroutine to exit.
func (r *Reaper) Stop() error {
	r.tomb.Kill(nil)
	return r.tomb.Wait()
}

func (r *Reaper) run() error {
	sigChld := make(chan os.Signal, 1)
	signal.Notify(sigChld, unix.SIGCHLD)
	defer signal.Stop(sigChld)

	for {
		select {
		case <-sigChld:
			r.reapOnce()
		case <-r.tomb.Dying():
			return nil
		}
	}
}

// reapOnce drains all outstanding child-status notifications without
// blocking, maps them to process-state transitions, and recomputes
// derived job states. Mirrors the algorithm in the design doc: locate by
// linear scan, update, loop until nothing more is pending, then
// recompute every non-free job's derived state before releasing waiters.
func (r *Reaper) reapOnce() {
	r.table.Lock()
	defer r.table.Unlock()

	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.ECHILD || pid <= 0 {
			break
		}
		if err != nil {
			logger.Debugf("reaper: wait4: %v", err)
			break
		}

		if !r.updateProcess(pid, ws) {
			// A grandchild or an already-detached process; nothing in
			// the table references it. Keep draining.
			logger.Debugf("reaper: reaped untracked pid %d", pid)
		}
	}

	r.recomputeJobStates()
	r.table.Broadcast()
}

func (r *Reaper) updateProcess(pid int, ws unix.WaitStatus) bool {
	for j := 0; j < r.table.Len(); j++ {
		job := r.table.Job(j)
		if job.Pgid == 0 {
			continue
		}
		for p := range job.Procs {
			proc := &job.Procs[p]
			if proc.Pid != pid {
				continue
			}
			switch {
			case ws.Continued():
				proc.State = jobtable.Running
			case ws.Stopped():
				proc.State = jobtable.Stopped
			case ws.Exited(), ws.Signaled():
				proc.State = jobtable.Finished
				proc.ExitStatus = int(ws)
			}
			return true
		}
	}
	return false
}

func (r *Reaper) recomputeJobStates() {
	for j := 0; j < r.table.Len(); j++ {
		job := r.table.Job(j)
		if job.Pgid == 0 || len(job.Procs) == 0 {
			continue
		}
		common := job.Procs[0].State
		agree := true
		for _, proc := range job.Procs[1:] {
			if proc.State != common {
				agree = false
				break
			}
		}
		if agree {
			job.State = common
		}
	}
}

// Decode turns a raw encoded wait status (as stored in
// jobtable.Process.ExitStatus once a process is FINISHED) into a shell
// exit code: a normal exit yields the exit value, a signalled
// termination yields the signal number.
func Decode(status int) int {
	ws := unix.WaitStatus(status)
	if ws.Exited() {
		return ws.ExitStatus()
	}
	if ws.Signaled() {
		return int(ws.Signal())
	}
	return 0
}
