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

// Package shell is the read-eval-report loop: it owns the terminal
// controller, the job table, the reaper and the built-in registry, and
// wires a tokenized line through the orchestrator and foreground
// monitor. It is the one package that knows about every other package in
// the tree, the way the teacher's internals/daemon knows about every
// overlord manager.
package shell

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/job-shell/jsh/internals/builtin"
	"github.com/job-shell/jsh/internals/config"
	"github.com/job-shell/jsh/internals/fgmonitor"
	"github.com/job-shell/jsh/internals/jobtable"
	"github.com/job-shell/jsh/internals/logger"
	"github.com/job-shell/jsh/internals/metrics"
	"github.com/job-shell/jsh/internals/orchestrator"
	"github.com/job-shell/jsh/internals/readline"
	"github.com/job-shell/jsh/internals/reaper"
	"github.com/job-shell/jsh/internals/termctl"
	"github.com/job-shell/jsh/internals/token"
)

// exitRequest is recovered by Run's main loop to implement the "exit"
// built-in without threading a return value through every call on the
// stack, the same control-flow shortcut the teacher's daemon.Daemon uses
// panic/recover for in its signal-triggered shutdown path.
type exitRequest struct{ code int }

// Terminal is everything the shell needs from its controlling terminal:
// fgmonitor.Terminal plus the shutdown-time handoff back to the shell.
// Accepting this interface (rather than *termctl.Controller directly)
// lets tests drive Resume/Kill/shutdown without a real controlling
// terminal, the same reasoning fgmonitor.Terminal itself documents.
type Terminal interface {
	fgmonitor.Terminal
	RestoreShell() error
	Close() error
}

// Shell is one running instance of the interactive loop. It implements
// builtin.Shell so the built-in registry can call back into it.
type Shell struct {
	table   *jobtable.Table
	reaper  *reaper.Reaper
	term    Terminal
	editor  *readline.Editor
	metrics *metrics.Registry
	cfg     *config.Config

	builtins *builtin.Registry

	aliases map[string]string

	out io.Writer
	err io.Writer
}

// New constructs a Shell. It requires a real controlling terminal: the
// shell refuses to run non-interactively, per its job-control contract.
func New(cfg *config.Config, out, errOut io.Writer) (*Shell, error) {
	table := jobtable.New()

	shellPgid := unix.Getpid()
	if unix.Getpgrp() != shellPgid {
		if err := unix.Setpgid(0, shellPgid); err != nil {
			return nil, fmt.Errorf("shell: set own process group: %w", err)
		}
	}

	ctl, err := termctl.New(shellPgid)
	if err != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}

	s := assemble(table, ctl, cfg, os.Stdin, out, errOut)
	s.installSignals()

	return s, nil
}

// assemble builds a Shell around a caller-supplied table and terminal; New
// uses it with a real termctl.Controller, and this package's own tests use
// it directly with a fake Terminal to drive Resume/Kill/shutdown without a
// real controlling terminal, the same injection fgmonitor's tests use for
// fgmonitor.Monitor.
func assemble(table *jobtable.Table, term Terminal, cfg *config.Config, in io.Reader, out, errOut io.Writer) *Shell {
	s := &Shell{
		table:   table,
		reaper:  reaper.Start(table),
		term:    term,
		editor:  readline.New(in, out, 1000),
		metrics: metrics.NewRegistry(),
		cfg:     cfg,
		aliases: make(map[string]string),
		out:     out,
		err:     errOut,
	}
	for name, value := range cfg.Aliases {
		s.aliases[name] = value
	}
	for name, value := range cfg.Environment {
		os.Setenv(name, value)
	}
	s.builtins = builtin.New(s)
	return s
}

// installSignals ignores the three job-control signals the shell itself
// must never react to, and routes SIGINT at the interactive read into
// the line editor's cancellation channel instead of the process default.
// Go has no async-signal-handler context, so a dedicated goroutine
// reading from a signal.Notify channel is the idiomatic replacement —
// the same pattern the teacher's internals/reaper uses for SIGCHLD.
func (s *Shell) installSignals() {
	signal.Ignore(syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT)
	go func() {
		for range sigint {
			s.editor.Interrupt()
		}
	}()
}

// Run is the read-eval-report loop. It returns the shell's final exit
// code: the code "exit" supplies, 1 after an unrecoverable failure, and
// otherwise (on EOF or a read error) the exit code of the last command
// evaluated, or 0 if none was.
func (s *Shell) Run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			// An exitRequest is the "exit" built-in; anything else is an
			// unrecoverable OS-call failure raised via logger.Panicf — per
			// spec.md §7 the shell prints the panic message to its error
			// stream and exits with code 1 rather than crashing.
			if req, ok := r.(exitRequest); ok {
				code = req.code
			} else {
				fmt.Fprintf(s.err, "jsh: %v\n", r)
				code = 1
			}
		}
		s.shutdown()
	}()

	for {
		line, err := s.editor.ReadLine(s.cfg.Prompt)
		if err == readline.ErrInterrupted {
			fmt.Fprintln(s.out)
			continue
		}
		if err == io.EOF {
			return code
		}
		if err != nil {
			fmt.Fprintf(s.err, "jsh: %v\n", err)
			return code
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.editor.Record(line)

		code = s.Eval(line)
		s.reportFinishedBackgroundJobs()
	}
}

// Eval tokenizes and runs a single line, returning the exit code to
// report for it.
func (s *Shell) Eval(line string) int {
	line = s.expandAliases(line)

	tokens, err := token.Tokenize(line)
	if err != nil {
		fmt.Fprintf(s.err, "jsh: %v\n", err)
		return 1
	}
	if len(tokens) == 0 {
		return 0
	}

	result, err := orchestrator.Run(s.table, s.builtins, tokens)
	if err != nil {
		fmt.Fprintf(s.err, "jsh: %v\n", err)
		return 1
	}

	if result.Builtin {
		return result.ExitCode
	}

	if result.Backgrounded {
		s.metrics.JobsStarted.Inc()
		cmd := s.table.Command(result.Slot)
		fmt.Fprintf(s.out, "[%d] running '%s'\n", result.Slot, cmd)
		return 0
	}

	s.metrics.JobsStarted.Inc()
	return fgmonitor.Monitor(s.table, s.term, s)
}

// expandAliases replaces a leading alias name with its expansion. Only
// the first word is checked, matching the teacher's narrow, non-
// recursive approach to similar textual substitutions elsewhere in the
// codebase (e.g. plan.CombineLayers does one substitution pass, not a
// fixed-point loop).
func (s *Shell) expandAliases(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return line
	}
	if expansion, ok := s.aliases[fields[0]]; ok {
		return expansion + strings.TrimPrefix(line, fields[0])
	}
	return line
}

// Suspended implements fgmonitor.Reporter: it prints the "suspended"
// report for a job the monitor has just moved to the background.
func (s *Shell) Suspended(slot int, cmd string) {
	s.metrics.JobsStopped.Inc()
	fmt.Fprintf(s.out, "[%d] suspended '%s'\n", slot, cmd)
}

// reportFinishedBackgroundJobs polls every background slot after each
// command, printing and freeing any that have finished. Per spec, this
// also reaps jobs that don't match a reporting filter — there is no
// filter here, everything FINISHED gets reported and freed.
func (s *Shell) reportFinishedBackgroundJobs() {
	s.table.Lock()
	n := s.table.Len()
	s.table.Unlock()

	for slot := jobtable.BG; slot < n; slot++ {
		cmd := s.table.Command(slot)
		if cmd == "" {
			continue
		}
		state, status := s.table.FetchAndReap(slot)
		if state != jobtable.Finished {
			continue
		}
		s.metrics.JobsFinished.Inc()
		ws := unix.WaitStatus(status)
		if ws.Signaled() {
			fmt.Fprintf(s.out, "[%d] killed '%s' by signal %d\n", slot, cmd, int(ws.Signal()))
		} else {
			fmt.Fprintf(s.out, "[%d] exited '%s', status=%d\n", slot, cmd, ws.ExitStatus())
		}
	}
}

// Resume implements fg/bg: see spec.md §4.6's resume(j, bg). A negative
// or otherwise out-of-range slot is rejected with "no such job"; built-in
// callers resolve a missing job id to the most recent non-finished job
// via builtin.resolveSlot before calling, so this method only ever
// receives a concrete slot.
func (s *Shell) Resume(slot int, background bool) error {
	s.table.Lock()
	if slot < jobtable.BG || slot >= s.table.Len() {
		s.table.Unlock()
		return fmt.Errorf("no such job")
	}
	job := s.table.Job(slot)
	if job.Pgid == 0 || job.State == jobtable.Finished {
		s.table.Unlock()
		return fmt.Errorf("no such job")
	}
	pgid := job.Pgid
	cmd := job.Command
	wasStopped := job.State == jobtable.Stopped

	destSlot := slot
	if !background {
		destSlot = jobtable.FG
		s.table.Move(slot, jobtable.FG)
		fg := s.table.Job(jobtable.FG)
		s.term.Restore(fg.SavedModes)
		s.term.SetForeground(pgid)
	}

	if wasStopped {
		unix.Kill(-pgid, syscall.SIGCONT)
		// Only the fg path must block here: the shell is about to hand the
		// terminal to this job and must not return to the prompt while it
		// is still marked Stopped. bg is fire-and-continue — it must not
		// stall the prompt waiting for a job that's slow to reschedule.
		if !background {
			for s.table.Job(destSlot).State == jobtable.Stopped {
				s.table.Wait()
			}
		}
	}

	fmt.Fprintf(s.out, "[%d] continue '%s'\n", slot, cmd)
	s.table.Unlock()

	if background {
		return nil
	}
	fgmonitor.Monitor(s.table, s.term, s)
	return nil
}

// Kill implements the kill built-in: SIGTERM to the job's process group,
// plus SIGCONT if it was stopped so the signal is actually delivered.
func (s *Shell) Kill(slot int) error {
	s.table.Lock()
	defer s.table.Unlock()

	if slot < jobtable.BG || slot >= s.table.Len() {
		return fmt.Errorf("no such job")
	}
	job := s.table.Job(slot)
	if job.Pgid == 0 || job.State == jobtable.Finished {
		return fmt.Errorf("no such job")
	}

	s.metrics.JobsKilled.Inc()
	unix.Kill(-job.Pgid, syscall.SIGTERM)
	if job.State == jobtable.Stopped {
		unix.Kill(-job.Pgid, syscall.SIGCONT)
	}
	return nil
}

func (s *Shell) Jobs() *jobtable.Table       { return s.table }
func (s *Shell) History() []string           { return s.editor.History() }
func (s *Shell) Aliases() map[string]string  { return s.aliases }
func (s *Shell) SetAlias(name, value string) { s.aliases[name] = value }
func (s *Shell) Unalias(name string)         { delete(s.aliases, name) }
func (s *Shell) Setenv(name, value string)   { os.Setenv(name, value) }
func (s *Shell) Unsetenv(name string)        { os.Unsetenv(name) }
func (s *Shell) Metrics() *metrics.Registry  { return s.metrics }

// Exit implements the exit built-in via panic/recover, unwinding
// straight out of Run regardless of call depth.
func (s *Shell) Exit(code int) { panic(exitRequest{code}) }

// shutdown terminates every non-free job and reports each, per spec.md
// §4/§8: "shutdown terminates every non-free job and reports each before
// the shell exits."
func (s *Shell) shutdown() {
	s.table.Lock()
	n := s.table.Len()
	for slot := jobtable.FG; slot < n; slot++ {
		job := s.table.Job(slot)
		if job.Pgid == 0 {
			continue
		}
		unix.Kill(-job.Pgid, syscall.SIGTERM)
		if job.State == jobtable.Stopped {
			unix.Kill(-job.Pgid, syscall.SIGCONT)
		}
	}
	s.table.Unlock()

	for slot := jobtable.FG; slot < n; slot++ {
		s.table.Lock()
		if slot >= s.table.Len() {
			s.table.Unlock()
			continue
		}
		job := s.table.Job(slot)
		if job.Pgid == 0 {
			s.table.Unlock()
			continue
		}
		for job.State != jobtable.Finished {
			s.table.Wait()
			job = s.table.Job(slot)
		}
		cmd := job.Command
		s.table.Unlock()
		_, status := s.table.FetchAndReap(slot)

		ws := unix.WaitStatus(status)
		if ws.Signaled() {
			fmt.Fprintf(s.out, "[%d] killed '%s' by signal %d\n", slot, cmd, int(ws.Signal()))
		} else {
			fmt.Fprintf(s.out, "[%d] exited '%s', status=%d\n", slot, cmd, ws.ExitStatus())
		}
	}

	s.reaper.Stop()
	s.term.RestoreShell()
	s.term.Close()
	logger.Debugf("shell: shutdown complete")
}
