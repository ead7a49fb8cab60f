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

package readline_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/job-shell/jsh/internals/readline"
)

func TestReadLineReturnsTrimmedLine(t *testing.T) {
	in := strings.NewReader("echo hi\n")
	var out bytes.Buffer
	ed := readline.New(in, &out, 10)

	line, err := ed.ReadLine("# ")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", line)
	assert.Equal(t, "# ", out.String())
}

func TestReadLineEOFOnEmptyInput(t *testing.T) {
	ed := readline.New(strings.NewReader(""), &bytes.Buffer{}, 10)
	_, err := ed.ReadLine("# ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestHistoryRecordsAndBoundsSize(t *testing.T) {
	ed := readline.New(strings.NewReader(""), &bytes.Buffer{}, 2)
	ed.Record("one")
	ed.Record("two")
	ed.Record("three")
	assert.Equal(t, []string{"two", "three"}, ed.History())
}

// blockingReader never returns, simulating a stalled terminal read so
// Interrupt has something to cancel.
type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	select {}
}

func TestInterruptCancelsInProgressRead(t *testing.T) {
	var out bytes.Buffer
	ed := readline.New(blockingReader{}, &out, 10)

	done := make(chan error, 1)
	go func() {
		_, err := ed.ReadLine("# ")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ed.Interrupt()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, readline.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not return after Interrupt")
	}
}
