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

// Package orchestrator turns a tokenized command line into running
// processes: single commands and pipelines alike are split into stages.
// A job that is a single foreground stage naming a built-in runs that
// built-in synchronously in the shell, never forked; every other stage,
// including a built-in name inside a pipeline or a backgrounded job, is
// started as an external program (forked with its own process group,
// joined to the pipeline's group), and the whole job is registered in
// the job table before the orchestrator returns control to the caller.
//
// The process-group handshake below — Setpgid in the child via
// SysProcAttr, and again from the parent right after Start returns — is
// the same idempotent "set it in both parent and child" pattern the
// teacher's reaper.StartCommand uses to avoid the fork/exec race where a
// signal can arrive before either side has labeled the new process.
// Registration in the job table happens under the same lock that spans
// cmd.Start, for the same reason: the reaper must never observe a pid it
// has no table entry for.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/job-shell/jsh/internals/builtin"
	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/logger"
	"github.com/job-shell/jsh/internals/token"
)

// Result describes what the shell loop should do once Run returns.
type Result struct {
	// Backgrounded is true when the job was launched with a trailing "&"
	// and was never waited on.
	Backgrounded bool
	// Slot is the job-table slot the job occupies: FG unless Backgrounded.
	Slot int
	// Builtin is true when the whole job was a single built-in, which
	// never touches the job table or the foreground monitor.
	Builtin bool
	// ExitCode is valid only when Builtin is true.
	ExitCode int
}

// stage is one command in a pipeline, after redirection tokens have been
// consumed.
type stage struct {
	argv  []string
	stdin string // path, or "" for inherited
	stdout string // path, or "" for inherited
}

// Builtins looks up and runs shell built-ins; it is the builtin.Registry
// interface, accepted rather than imported concretely so tests can stub
// it out without constructing a real shell environment.
type Builtins interface {
	Lookup(name string) (builtin.Func, bool)
}

// Run parses tokens into one or more stages joined by pipes, spawns them,
// and registers the resulting job in table. For a foreground job it does
// not wait for completion: the caller (the shell loop) is expected to
// follow a non-backgrounded Result with fgmonitor.Monitor.
func Run(table *jobtable.Table, reg Builtins, tokens []token.Token) (Result, error) {
	stages, background, err := split(tokens)
	if err != nil {
		return Result{}, err
	}
	if len(stages) == 0 {
		return Result{}, fmt.Errorf("orchestrator: empty command")
	}

	if len(stages) == 1 && !background {
		if fn, ok := lookupBuiltin(reg, stages[0].argv); ok {
			code := runBuiltin(fn, stages[0])
			return Result{Builtin: true, ExitCode: code}, nil
		}
	}

	slot, err := spawn(table, stages, background)
	if err != nil {
		return Result{}, err
	}

	return Result{Backgrounded: background, Slot: slot}, nil
}

func lookupBuiltin(reg Builtins, argv []string) (builtin.Func, bool) {
	if reg == nil || len(argv) == 0 {
		return nil, false
	}
	return reg.Lookup(argv[0])
}

func runBuiltin(fn builtin.Func, st stage) int {
	files, err := openRedirections(st)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeAll(files)

	stdin, stdout := os.Stdin, os.Stdout
	if f, ok := files["stdin"]; ok {
		stdin = f
	}
	if f, ok := files["stdout"]; ok {
		stdout = f
	}

	return fn(st.argv, stdin, stdout, os.Stderr)
}

// split walks tokens into pipeline stages, consuming "<"/">" redirection
// pairs as it goes. A trailing BgJob token sets background and must be
// the very last token.
func split(tokens []token.Token) (stages []stage, background bool, err error) {
	cur := stage{}
	started := false
	pendingPipe := false

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Kind {
		case token.Word:
			cur.argv = append(cur.argv, t.Text)
			started = true
		case token.Input:
			i++
			if i >= len(tokens) || tokens[i].Kind != token.Word {
				return nil, false, fmt.Errorf("orchestrator: missing filename after '<'")
			}
			cur.stdin = tokens[i].Text
		case token.Output:
			i++
			if i >= len(tokens) || tokens[i].Kind != token.Word {
				return nil, false, fmt.Errorf("orchestrator: missing filename after '>'")
			}
			cur.stdout = tokens[i].Text
		case token.Pipe:
			if !started {
				return nil, false, fmt.Errorf("orchestrator: empty pipeline stage before '|'")
			}
			stages = append(stages, cur)
			cur = stage{}
			started = false
			pendingPipe = true
		case token.BgJob:
			if i != len(tokens)-1 {
				return nil, false, fmt.Errorf("orchestrator: '&' must end the command")
			}
			background = true
		}
	}
	if pendingPipe && !started {
		return nil, false, fmt.Errorf("orchestrator: empty pipeline stage after '|'")
	}
	if started {
		stages = append(stages, cur)
	}
	return stages, background, nil
}

func openRedirections(st stage) (map[string]*os.File, error) {
	files := make(map[string]*os.File)
	if st.stdin != "" {
		f, err := os.Open(st.stdin)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		files["stdin"] = f
	}
	if st.stdout != "" {
		f, err := os.Create(st.stdout)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		files["stdout"] = f
	}
	return files, nil
}

func closeAll(files map[string]*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// spawn forks every stage, wires pipes between consecutive stages and
// file redirections at the ends, and registers the job under a single
// table lock held across every cmd.Start call.
func spawn(table *jobtable.Table, stages []stage, background bool) (int, error) {
	cmds := make([]*exec.Cmd, len(stages))
	files := make([]map[string]*os.File, len(stages))

	var readEnds, writeEnds []*os.File
	defer func() {
		for _, f := range readEnds {
			f.Close()
		}
		for _, f := range writeEnds {
			f.Close()
		}
	}()

	for i, st := range stages {
		f, err := openRedirections(st)
		if err != nil {
			for _, m := range files {
				closeAll(m)
			}
			return 0, err
		}
		files[i] = f

		cmd := exec.Command(st.argv[0], st.argv[1:]...)
		cmd.Stderr = os.Stderr

		if in, ok := f["stdin"]; ok {
			cmd.Stdin = in
		} else {
			cmd.Stdin = os.Stdin
		}
		if out, ok := f["stdout"]; ok {
			cmd.Stdout = out
		} else {
			cmd.Stdout = os.Stdout
		}
		cmds[i] = cmd
	}

	for i := 0; i < len(stages)-1; i++ {
		// pipe2 only fails from kernel resource exhaustion (too many open
		// files), never from anything the user typed — an unrecoverable
		// OS-call failure per spec.md §7, so it goes through
		// logger.Panicf rather than back up as a per-command error.
		r, w, err := pipe()
		if err != nil {
			for _, m := range files {
				closeAll(m)
			}
			logger.Panicf("orchestrator: %v", err)
		}
		// Stage i writes to w unless it already has an explicit
		// redirection; stage i+1 reads from r unless it does.
		if _, ok := files[i]["stdout"]; !ok {
			cmds[i].Stdout = w
		}
		if _, ok := files[i+1]["stdin"]; !ok {
			cmds[i+1].Stdin = r
		}
		readEnds = append(readEnds, r)
		writeEnds = append(writeEnds, w)
	}

	table.Lock()
	defer func() {
		for _, m := range files {
			closeAll(m)
		}
	}()

	slot := jobtable.FG
	if background {
		slot = table.AllocBackground()
	}

	// signal.Ignore sets real SIG_IGN, which (unlike a caught signal)
	// survives exec, so without this a child would inherit the shell's
	// ignored SIGTSTP/SIGTTIN/SIGTTOU instead of getting default
	// disposition as spec.md §6 requires of forked children. Reset around
	// the fork/exec window and restore once every stage is started.
	signal.Reset(syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU)
	defer signal.Ignore(syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU)

	var pgid int
	for i, cmd := range cmds {
		// pgid is 0 on the first stage: the child becomes its own group
		// leader, and pgid is then set to its pid below for later stages.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}

		if err := cmd.Start(); err != nil {
			table.Unlock()
			killAll(cmds[:i])
			return 0, fmt.Errorf("orchestrator: start %q: %w", cmd.Path, err)
		}

		pid := cmd.Process.Pid
		if i == 0 {
			pgid = pid
			table.Add(slot, pgid)
		}
		// Idempotent: the child already did this via SysProcAttr, but a
		// child can exit (and be reaped) before the parent's copy lands,
		// so the parent sets it too, exactly as the teacher's
		// reaper.StartCommand double-sets pgid around the same race.
		_ = unix.Setpgid(pid, pgid)

		table.AddProcess(slot, pid, cmd.Args)
	}
	table.Unlock()

	return slot, nil
}

// Deliberately no call to exec.Cmd.Wait anywhere in this package: the
// reaper package owns every wait4 call against these pids (see
// internals/reaper), and wait4 can only ever be consumed once per child.
// Calling Cmd.Wait here too would race the reaper for the same zombie.

func killAll(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
}

// pipe opens a close-on-exec pipe: the read/write ends must not leak into
// grandchild stages that don't use them, the same concern the teacher
// addresses with CloseOnExec on its duplicated terminal fd in termctl.
func pipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("pipe2: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "|0"), os.NewFile(uintptr(fds[1]), "|1"), nil
}
