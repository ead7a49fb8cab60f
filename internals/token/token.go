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

// Package token is the external collaborator that turns a command line
// into the token sequence the orchestrator consumes: plain words, input
// and output redirection, the pipe separator, and the background suffix.
//
// Quote-aware word splitting is delegated to
// github.com/canonical/x-go/strutil/shlex, the same shlex the teacher
// uses in internals/plan/plan.go to split a service's command string. On
// top of that we recognize "<", ">" and "|" as standalone words (shlex
// already gives them to us as separate tokens when surrounded by
// whitespace — e.g. "cat < in.txt") and "&" only as the literal final
// word.
package token

import (
	"fmt"

	"github.com/canonical/x-go/strutil/shlex"
)

// Kind identifies what a Token means to the orchestrator.
type Kind int

const (
	Word Kind = iota
	Input
	Output
	Pipe
	BgJob
)

// Token is a single lexical unit of a command line.
type Token struct {
	Kind Kind
	Text string
}

// Tokenize splits line into a Token sequence. "&" is only ever recognized
// as the background suffix when it is the last token; everywhere else a
// literal "&" word would need to come from quoting (shlex handles that),
// since this shell's language has no other use for it.
func Tokenize(line string) ([]Token, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		switch w {
		case "<":
			tokens = append(tokens, Token{Kind: Input, Text: w})
		case ">":
			tokens = append(tokens, Token{Kind: Output, Text: w})
		case "|":
			tokens = append(tokens, Token{Kind: Pipe, Text: w})
		default:
			tokens = append(tokens, Token{Kind: Word, Text: w})
		}
	}

	if n := len(tokens); n > 0 && tokens[n-1].Kind == Word && tokens[n-1].Text == "&" {
		tokens[n-1] = Token{Kind: BgJob, Text: "&"}
	}

	return tokens, nil
}

// Words converts a run of Word tokens back into a plain argv slice,
// dropping every non-Word token. The orchestrator does not use it: it
// builds each stage's argv itself while consuming redirections.
func Words(tokens []Token) []string {
	argv := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind == Word {
			argv = append(argv, t.Text)
		}
	}
	return argv
}
