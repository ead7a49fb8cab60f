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

// Package config parses the shell's startup file (~/.jshrc-equivalent):
// aliases, environment variables and the prompt string, read once at
// startup. The shell sets each configured environment variable in its own
// process environment, replacing an inherited value of the same name.
// Parsing uses
// gopkg.in/yaml.v3, the same library the teacher's internals/plan
// package uses to decode its layer documents via yaml.Node.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPrompt is used when the config omits a prompt or no file is
// found at all.
const DefaultPrompt = "# "

// Config is the decoded startup file.
type Config struct {
	Prompt      string            `yaml:"prompt,omitempty"`
	Aliases     map[string]string `yaml:"aliases,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// Default returns an empty config with the built-in prompt, suitable
// when no startup file exists.
func Default() *Config {
	return &Config{Prompt: DefaultPrompt}
}

// Parse decodes a startup file's contents.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	return cfg, nil
}

// Load reads and parses the startup file at path. A missing file is not
// an error: it yields Default(), since the shell is fully usable without
// one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// HomePath returns the default startup-file path under the user's home
// directory: ~/.jshrc.
func HomePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	return home + "/.jshrc", nil
}
