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

package main

import (
	"fmt"
	"os"

	"github.com/canonical/go-flags"

	"github.com/job-shell/jsh/internals/config"
	"github.com/job-shell/jsh/internals/logger"
	"github.com/job-shell/jsh/internals/shell"
)

// version is overwritten at build time via -ldflags, the way the
// teacher's cmd/pebble does for its own version string.
var version = "unknown"

type options struct {
	Command string `short:"c" long:"command" description:"run a single command line and exit, instead of starting the interactive loop"`
	RCFile  string `long:"rcfile" description:"startup file to read instead of ~/.jshrc"`
	Version func() `long:"version" description:"print the version and exit"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	opts.Version = func() {
		fmt.Println("jsh", version)
		os.Exit(0)
	}

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := loadConfig(opts.RCFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsh: %v\n", err)
		return 1
	}

	sh, err := shell.New(cfg, os.Stdout, os.Stderr)
	if err != nil {
		logger.Panicf("jsh: %v", err)
	}

	if opts.Command != "" {
		return sh.Eval(opts.Command)
	}

	return sh.Run()
}

func loadConfig(rcfile string) (*config.Config, error) {
	if rcfile != "" {
		return config.Load(rcfile)
	}
	path, err := config.HomePath()
	if err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}
