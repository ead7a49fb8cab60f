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

// Package builtin is the internal command table: cd, pwd, exit, jobs,
// fg, bg, kill, history, export, unset and alias all run in the shell's
// own process rather than being forked, the way the teacher's
// internals/overlord/cmdstate built-ins short-circuit before touching
// the executor.
package builtin

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/metrics"
	"github.com/job-shell/jsh/internals/osutil"
)

// unixWaitStatus reinterprets a job's stored exit status as the raw
// encoded wait status the reaper captured it as (see jobtable.Process).
func unixWaitStatus(status int) unix.WaitStatus {
	return unix.WaitStatus(status)
}

// Func is a built-in's entry point. It must not block on job-table state
// that only the reaper or foreground monitor can advance.
type Func func(argv []string, stdin, stdout, stderr *os.File) int

// Shell is the slice of shell state a built-in needs: job control
// operations, the alias/environment tables, and history. Accepting an
// interface rather than a concrete *shell.Shell keeps this package free
// of an import cycle (internals/shell imports internals/builtin, not the
// other way around).
type Shell interface {
	Jobs() *jobtable.Table
	Resume(slot int, background bool) error
	Kill(slot int) error
	History() []string
	SetAlias(name, value string)
	Unalias(name string)
	Aliases() map[string]string
	Setenv(name, value string)
	Unsetenv(name string)
	Metrics() *metrics.Registry
	Exit(code int)
}

// Registry maps built-in names to their implementations.
type Registry struct {
	shell Shell
	funcs map[string]Func
}

// New builds the registry bound to shell. Construction wires every name
// to a closure over shell so Func keeps the narrow argv/stdio signature
// external commands also use.
func New(shell Shell) *Registry {
	r := &Registry{shell: shell}
	r.funcs = map[string]Func{
		"cd":      r.cd,
		"pwd":     r.pwd,
		"exit":    r.exit,
		"jobs":    r.jobs,
		"fg":      r.fg,
		"bg":      r.bg,
		"kill":    r.kill,
		"history": r.history,
		"export":  r.export,
		"unset":   r.unset,
		"alias":   r.alias,
		"unalias": r.unalias,
		"stats":   r.stats,
	}
	return r
}

// Lookup returns the built-in for name, if any.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *Registry) cd(argv []string, stdin, stdout, stderr *os.File) int {
	dir := os.Getenv("HOME")
	if len(argv) > 1 {
		dir = argv[1]
	}
	if dir == "" {
		fmt.Fprintln(stderr, "cd: HOME not set")
		return 1
	}
	if err := os.Chdir(dir); err != nil {
		fmt.Fprintf(stderr, "cd: %v\n", err)
		return 1
	}
	return 0
}

func (r *Registry) pwd(argv []string, stdin, stdout, stderr *os.File) int {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "pwd: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, dir)
	return 0
}

func (r *Registry) exit(argv []string, stdin, stdout, stderr *os.File) int {
	code := 0
	if len(argv) > 1 {
		if n, err := strconv.Atoi(argv[1]); err == nil {
			code = n
		}
	}
	r.shell.Exit(code)
	return code
}

// jobFilter decides which derived states the jobs built-in prints: with
// no argument every state, "-r" only running jobs, "-s" only stopped
// jobs. No option selects finished jobs alone; finished jobs are printed
// only by the unfiltered listing, though every listing frees them.
func jobFilter(argv []string) (match func(jobtable.State) bool, ok bool) {
	if len(argv) < 2 {
		return func(jobtable.State) bool { return true }, true
	}
	switch argv[1] {
	case "-r":
		return func(s jobtable.State) bool { return s == jobtable.Running }, true
	case "-s":
		return func(s jobtable.State) bool { return s == jobtable.Stopped }, true
	default:
		return nil, false
	}
}

func (r *Registry) jobs(argv []string, stdin, stdout, stderr *os.File) int {
	match, ok := jobFilter(argv)
	if !ok {
		fmt.Fprintf(stderr, "jobs: unknown filter %q\n", argv[1])
		return 1
	}

	table := r.shell.Jobs()
	table.Lock()
	n := table.Len()
	occupied := make([]bool, n)
	for slot := jobtable.BG; slot < n; slot++ {
		occupied[slot] = table.Job(slot).Pgid != 0
	}
	table.Unlock()

	for slot := jobtable.BG; slot < n; slot++ {
		if !occupied[slot] {
			continue
		}
		cmd := table.Command(slot)
		state, status := table.FetchAndReap(slot)

		switch state {
		case jobtable.Running:
			if match(state) {
				fmt.Fprintf(stdout, "[%d] running '%s'\n", slot, cmd)
			}
		case jobtable.Stopped:
			if match(state) {
				fmt.Fprintf(stdout, "[%d] suspended '%s'\n", slot, cmd)
			}
		case jobtable.Finished:
			if match(state) {
				printFinished(stdout, slot, cmd, status)
			}
		}
	}
	return 0
}

// printFinished prints the exited/killed report for a reaped job for the
// jobs built-in. The shell's own background-reporter and shutdown passes
// print the same two formats with their own code.
func printFinished(w io.Writer, slot int, cmd string, status int) {
	ws := unixWaitStatus(status)
	if ws.Signaled() {
		fmt.Fprintf(w, "[%d] killed '%s' by signal %d\n", slot, cmd, int(ws.Signal()))
		return
	}
	fmt.Fprintf(w, "[%d] exited '%s', status=%d\n", slot, cmd, ws.ExitStatus())
}

// resolveSlot picks the job a bare "fg"/"bg"/"kill" (no argument) acts
// on: the highest-numbered occupied, non-finished slot, i.e. the most
// recently allocated background job still worth resuming or signalling.
func resolveSlot(argv []string, table *jobtable.Table) (int, error) {
	if len(argv) < 2 {
		table.Lock()
		defer table.Unlock()
		for i := table.Len() - 1; i >= jobtable.BG; i-- {
			job := table.Job(i)
			if job.Pgid != 0 && job.State != jobtable.Finished {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no such job")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(argv[1], "%"))
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", argv[1])
	}
	return n, nil
}

func (r *Registry) fg(argv []string, stdin, stdout, stderr *os.File) int {
	slot, err := resolveSlot(argv, r.shell.Jobs())
	if err != nil {
		fmt.Fprintf(stderr, "fg: %v\n", err)
		return 1
	}
	if err := r.shell.Resume(slot, false); err != nil {
		fmt.Fprintf(stderr, "fg: %v\n", err)
		return 1
	}
	return 0
}

func (r *Registry) bg(argv []string, stdin, stdout, stderr *os.File) int {
	slot, err := resolveSlot(argv, r.shell.Jobs())
	if err != nil {
		fmt.Fprintf(stderr, "bg: %v\n", err)
		return 1
	}
	if err := r.shell.Resume(slot, true); err != nil {
		fmt.Fprintf(stderr, "bg: %v\n", err)
		return 1
	}
	return 0
}

func (r *Registry) kill(argv []string, stdin, stdout, stderr *os.File) int {
	slot, err := resolveSlot(argv, r.shell.Jobs())
	if err != nil {
		fmt.Fprintf(stderr, "kill: %v\n", err)
		return 1
	}
	if err := r.shell.Kill(slot); err != nil {
		fmt.Fprintf(stderr, "kill: %v\n", err)
		return 1
	}
	return 0
}

func (r *Registry) history(argv []string, stdin, stdout, stderr *os.File) int {
	for i, line := range r.shell.History() {
		fmt.Fprintf(stdout, "%5d  %s\n", i+1, line)
	}
	return 0
}

func (r *Registry) export(argv []string, stdin, stdout, stderr *os.File) int {
	if len(argv) < 2 {
		for name, value := range osutil.Environ() {
			fmt.Fprintf(stdout, "%s=%s\n", name, value)
		}
		return 0
	}
	for _, arg := range argv[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			fmt.Fprintf(stderr, "export: %q is not NAME=value\n", arg)
			return 1
		}
		r.shell.Setenv(name, value)
	}
	return 0
}

func (r *Registry) unset(argv []string, stdin, stdout, stderr *os.File) int {
	for _, name := range argv[1:] {
		r.shell.Unsetenv(name)
	}
	return 0
}

func (r *Registry) alias(argv []string, stdin, stdout, stderr *os.File) int {
	if len(argv) < 2 {
		for name, value := range r.shell.Aliases() {
			fmt.Fprintf(stdout, "alias %s='%s'\n", name, value)
		}
		return 0
	}
	for _, arg := range argv[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			fmt.Fprintf(stderr, "alias: %q is not name=value\n", arg)
			return 1
		}
		r.shell.SetAlias(name, value)
	}
	return 0
}

func (r *Registry) unalias(argv []string, stdin, stdout, stderr *os.File) int {
	for _, name := range argv[1:] {
		r.shell.Unalias(name)
	}
	return 0
}

func (r *Registry) stats(argv []string, stdin, stdout, stderr *os.File) int {
	text, err := r.shell.Metrics().Dump()
	if err != nil {
		fmt.Fprintf(stderr, "stats: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, text)
	return 0
}
