// Copyright (c) 2021 Canonical Ltd
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

// Package logger is a fairly minimal logging tool, used by the shell and
// its collaborators for user-visible notices and debug tracing.
package logger

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"
)

// A Logger is a fairly minimal logging tool.
type Logger interface {
	// Noticef is for messages that the user should see.
	Noticef(format string, v ...any)
	// Debugf is for messages that the user should be able to find if
	// they're debugging something.
	Debugf(format string, v ...any)
}

type nullLogger struct{}

func (nullLogger) Noticef(format string, v ...any) {}
func (nullLogger) Debugf(format string, v ...any)  {}

// NullLogger is a logger that does nothing.
var NullLogger = nullLogger{}

var (
	logger     Logger = NullLogger
	loggerLock sync.Mutex
)

// Panicf notifies the user and then panics. The shell's top-level recover
// turns this into the "unrecoverable OS-call failure" diagnostic exit
// described for the error-handling design.
func Panicf(format string, v ...any) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger.Noticef("PANIC "+format, v...)
	panic(fmt.Sprintf(format, v...))
}

// Noticef notifies the user of something.
func Noticef(format string, v ...any) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger.Noticef(format, v...)
}

// Debugf records something in the debug log.
func Debugf(format string, v ...any) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger.Debugf(format, v...)
}

type lockedBytesBuffer struct {
	buffer []byte
	mutex  sync.Mutex
}

func (b *lockedBytesBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.buffer = append(b.buffer, p...)
	return len(p), nil
}

func (b *lockedBytesBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return string(b.buffer)
}

// MockLogger replaces the existing logger with a buffer and returns
// a Stringer returning the log buffer content and a restore function.
func MockLogger() (fmt.Stringer, func()) {
	buf := &lockedBytesBuffer{}
	oldLogger := SetLogger(New(buf, ""))
	return buf, func() {
		SetLogger(oldLogger)
	}
}

// SetLogger sets the global logger to the given one. It must be called
// from a single goroutine before any logs are written.
func SetLogger(l Logger) (old Logger) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	old = logger
	logger = l
	return old
}

type defaultLogger struct {
	w      io.Writer
	prefix string

	buf []byte
}

// Debugf only prints if JSH_DEBUG is set to 1.
func (l *defaultLogger) Debugf(format string, v ...any) {
	if os.Getenv("JSH_DEBUG") == "1" {
		l.Noticef("DEBUG "+format, v...)
	}
}

// Noticef alerts the user about something.
func (l *defaultLogger) Noticef(format string, v ...any) {
	l.buf = l.buf[:0]
	l.buf = AppendTimestamp(l.buf, time.Now())
	l.buf = append(l.buf, ' ')
	l.buf = append(l.buf, l.prefix...)
	l.buf = fmt.Appendf(l.buf, format, v...)
	if l.buf[len(l.buf)-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
	l.w.Write(l.buf)
}

// New creates a Logger using the given io.Writer and prefix (printed
// between the timestamp and the message).
func New(w io.Writer, prefix string) Logger {
	return &defaultLogger{
		w:      w,
		prefix: prefix,
		buf:    make([]byte, 0, 256),
	}
}

// AppendTimestamp appends a timestamp in format "YYYY-MM-DDTHH:mm:ss.sssZ" to
// the given byte slice and returns the extended slice.
//
// The timestamp is always in UTC and has exactly 3 fractional digits
// (millisecond precision). Makes no allocations if b has enough capacity.
func AppendTimestamp(b []byte, t time.Time) []byte {
	const capacity = 24

	utc := t.UTC()

	year := utc.Year()
	month := int(utc.Month())
	day := utc.Day()
	hour := utc.Hour()
	minute := utc.Minute()
	second := utc.Second()

	// Convert nanoseconds to milliseconds as we use millisecond precision.
	millisecond := utc.Nanosecond() / 1_000_000

	b = slices.Grow(b, capacity)
	b = b[:capacity]

	b[0] = byte('0' + year/1000%10)
	b[1] = byte('0' + year/100%10)
	b[2] = byte('0' + year/10%10)
	b[3] = byte('0' + year%10)
	b[4] = '-'

	b[5] = byte('0' + month/10)
	b[6] = byte('0' + month%10)
	b[7] = '-'

	b[8] = byte('0' + day/10)
	b[9] = byte('0' + day%10)
	b[10] = 'T'

	b[11] = byte('0' + hour/10)
	b[12] = byte('0' + hour%10)
	b[13] = ':'

	b[14] = byte('0' + minute/10)
	b[15] = byte('0' + minute%10)
	b[16] = ':'

	b[17] = byte('0' + second/10)
	b[18] = byte('0' + second%10)
	b[19] = '.'

	b[20] = byte('0' + millisecond/100)
	b[21] = byte('0' + millisecond/10%10)
	b[22] = byte('0' + millisecond%10)
	b[23] = 'Z'

	return b
}
