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

// Package termctl is the shell's terminal controller: it owns the
// controlling-terminal file descriptor, hands the terminal's foreground
// process group back and forth between the shell and the active job, and
// snapshots/restores terminal modes across those handoffs.
//
// Terminal mode save/restore is golang.org/x/term's State/GetState/Restore
// (the teacher imports golang.org/x/term itself, in internals/cli/cli.go,
// for terminal concerns); foreground process group control has no x/term
// equivalent and goes straight to the TIOCGPGRP/TIOCSPGRP ioctls via
// golang.org/x/sys/unix, the way the teacher's internal/ptyutil reaches
// past higher-level helpers for ioctls x/term doesn't expose.
package termctl

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by New when stdin is not a terminal.
var ErrNotInteractive = errors.New("termctl: stdin is not a terminal")

// Controller owns the shell's controlling terminal.
type Controller struct {
	fd         int
	shellPgid  int
	shellModes *term.State
}

// New duplicates stdin (close-on-exec, so children never inherit it),
// takes the terminal for the given process group, and snapshots the
// resulting modes as the shell's canonical modes.
func New(shellPgid int) (*Controller, error) {
	if !term.IsTerminal(unix.Stdin) {
		return nil, ErrNotInteractive
	}

	fd, err := unix.Dup(unix.Stdin)
	if err != nil {
		return nil, fmt.Errorf("termctl: dup stdin: %w", err)
	}
	if err := unix.CloseOnExec(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("termctl: set close-on-exec: %w", err)
	}

	c := &Controller{fd: fd, shellPgid: shellPgid}

	if err := c.SetForeground(shellPgid); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("termctl: take control of terminal: %w", err)
	}

	modes, err := term.GetState(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("termctl: get terminal modes: %w", err)
	}
	c.shellModes = modes

	return c, nil
}

// Fd returns the controlling terminal's duplicated file descriptor.
func (c *Controller) Fd() int { return c.fd }

// ShellPgid returns the shell's own process group.
func (c *Controller) ShellPgid() int { return c.shellPgid }

// ShellModes returns the shell's canonical terminal modes, snapshotted
// once at startup.
func (c *Controller) ShellModes() *term.State { return c.shellModes }

// Foreground returns the terminal's current foreground process group.
func (c *Controller) Foreground() (int, error) {
	return unix.IoctlGetInt(c.fd, unix.TIOCGPGRP)
}

// SetForeground makes pgid the terminal's foreground process group.
func (c *Controller) SetForeground(pgid int) error {
	return unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid)
}

// Snapshot returns the terminal's current modes.
func (c *Controller) Snapshot() (*term.State, error) {
	return term.GetState(c.fd)
}

// Restore installs previously-snapshotted modes on the terminal.
func (c *Controller) Restore(modes *term.State) error {
	if modes == nil {
		return nil
	}
	return term.Restore(c.fd, modes)
}

// RestoreShell hands the terminal back to the shell: foreground process
// group back to the shell's own, and the shell's canonical modes
// reinstalled.
func (c *Controller) RestoreShell() error {
	if err := c.SetForeground(c.shellPgid); err != nil {
		return err
	}
	return c.Restore(c.shellModes)
}

// Close releases the duplicated terminal file descriptor.
func (c *Controller) Close() error {
	return unix.Close(c.fd)
}
