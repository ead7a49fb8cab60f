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

// Package jobtable is the shell's job table: a dynamically grown collection
// of jobs, each a group of process records, with a reserved foreground slot
// at index FG and background slots above it.
//
// The table is the one shared resource in the shell: the orchestrator adds
// jobs and processes to it, the reaper mutates process and derived job
// state, and the foreground monitor and background reporter free finished
// jobs. All of that is safe only because every accessor takes the table's
// mutex; see Lock/Unlock/Wait for the pattern the reaper and foreground
// monitor use to replace POSIX signal masking with a condition variable.
package jobtable

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/term"
)

// FG is the reserved foreground slot. Background slots start at BG.
const (
	FG = 0
	BG = 1
)

// State is the state of a process or of a job derived from its processes.
type State int

const (
	Running State = iota
	Stopped
	Finished
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// unknownStatus is the sentinel exit status meaning "not yet known", used
// for both the not-yet-finished default and as a defensive fallback.
const unknownStatus = -1

// Process is a single child process tracked by a job.
type Process struct {
	Pid int
	// State is updated solely by the reaper.
	State State
	// ExitStatus is the raw encoded wait status (suitable for
	// unix.WaitStatus(ExitStatus)); valid only when State is Finished.
	ExitStatus int
}

// Job is a group of processes sharing one process group, corresponding to
// a single command or pipeline.
type Job struct {
	// Pgid is the OS process group all Procs share. Zero means the slot
	// is free.
	Pgid int
	// Procs is ordered pipeline order: producer first, consumer last.
	Procs []Process
	// SavedModes is the terminal attribute snapshot captured when this
	// job was last demoted from the foreground, so resume can restore
	// the user's interactive terminal state.
	SavedModes *term.State
	// State is the derived state: equal to the common state of every
	// process when they agree, otherwise it retains its previous value.
	State State
	// Command is the human-readable command line, built incrementally
	// as processes are added. Display only; never parsed.
	Command string

	seq uint64
}

func (j *Job) free() bool { return j.Pgid == 0 }

// Table is the job table described in the package doc.
type Table struct {
	mu      sync.Mutex
	cond    sync.Cond
	jobs    []Job
	nextSeq uint64
}

// New returns a table with just the foreground slot, initially free.
func New() *Table {
	t := &Table{jobs: make([]Job, 1)}
	t.cond.L = &t.mu
	return t
}

// Lock/Unlock/Wait/Broadcast expose the table's mutex and condition
// variable directly: the reaper and foreground monitor need to hold the
// lock across a read-then-maybe-wait sequence (the "atomic suspend"
// primitive from the design), which a collection of one-shot locked
// methods can't express.

func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// Wait blocks on the table's condition variable. Must be called with the
// lock held; atomically releases it while waiting and re-acquires it
// before returning, exactly as sigsuspend releases a signal mask for the
// duration of the wait.
func (t *Table) Wait() { t.cond.Wait() }

// Broadcast wakes every waiter. Must be called with the lock held.
func (t *Table) Broadcast() { t.cond.Broadcast() }

// Job returns a pointer to the job at slot i. The caller must hold the
// lock. The pointer is valid only until the next structural mutation
// (Move, Free, or a background allocation that grows the table) — callers
// must re-fetch by index rather than retain it across those calls, the
// same discipline the spec's raw byte-copy Move semantics imply.
func (t *Table) Job(i int) *Job {
	return &t.jobs[i]
}

// Len returns the number of slots, including the foreground slot. Must be
// called with the lock held.
func (t *Table) Len() int { return len(t.jobs) }

// AllocBackground finds or creates a free background slot: it scans
// slots BG.. low to high for one with Pgid == 0, preferring reuse over
// growth; if none is free it appends a new slot. Must be called with the
// lock held.
func (t *Table) AllocBackground() int {
	for i := BG; i < len(t.jobs); i++ {
		if t.jobs[i].free() {
			return i
		}
	}
	t.jobs = append(t.jobs, Job{})
	return len(t.jobs) - 1
}

// Add initializes the job at slot (FG or one returned by
// AllocBackground) with the given process-group id and RUNNING state,
// ready for AddProcess calls. Must be called with the lock held.
func (t *Table) Add(slot, pgid int) {
	t.nextSeq++
	t.jobs[slot] = Job{
		Pgid:  pgid,
		State: Running,
		seq:   t.nextSeq,
	}
}

// AddProcess appends a process record to the job at slot and extends its
// display command text: the first process's argv is the initial command,
// subsequent ones are appended as " | argv...". Must be called with the
// lock held.
func (t *Table) AddProcess(slot, pid int, argv []string) {
	job := &t.jobs[slot]
	job.Procs = append(job.Procs, Process{Pid: pid, State: Running, ExitStatus: unknownStatus})
	if job.Command != "" {
		job.Command += " | "
	}
	job.Command += strings.Join(argv, " ")
}

// Free releases the job at slot, which must be FINISHED; freeing any
// other state is forbidden. Must be called with the lock held.
func (t *Table) Free(slot int) {
	job := &t.jobs[slot]
	if job.State != Finished {
		panic(fmt.Sprintf("jobtable: cannot free job %d in state %s", slot, job.State))
	}
	t.jobs[slot] = Job{}
}

// Move relocates the job at from to to, which must be free; from becomes
// free. Must be called with the lock held.
func (t *Table) Move(from, to int) {
	if !t.jobs[to].free() {
		panic(fmt.Sprintf("jobtable: destination slot %d is not free", to))
	}
	t.jobs[to] = t.jobs[from]
	t.jobs[from] = Job{}
}

// Command returns the job's display command text.
func (t *Table) Command(slot int) string {
	t.Lock()
	defer t.Unlock()
	return t.jobs[slot].Command
}

// FetchAndReap returns the job's derived state. When that state is
// FINISHED, the job is freed and the exit status of its last process (in
// pipeline order) is returned alongside it. Freeing a non-FINISHED job
// never happens here: only FINISHED jobs are freed, and only once.
func (t *Table) FetchAndReap(slot int) (State, int) {
	t.Lock()
	defer t.Unlock()
	job := &t.jobs[slot]
	state := job.State
	if state != Finished {
		return state, unknownStatus
	}
	status := unknownStatus
	if n := len(job.Procs); n > 0 {
		status = job.Procs[n-1].ExitStatus
	}
	t.jobs[slot] = Job{}
	return state, status
}
