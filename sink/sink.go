// Package sink implements the line-buffered output writer shared by every
// connstate.State for a trace: a single open file handle passed down from
// main into the aggregator and on into each connection's State.
package sink

import (
	"bufio"
	"io"
)

// EmitSink is a write-only text sink. Emit writes exactly one complete
// line per call; callers format their own fields beforehand, so no write
// is ever interleaved with another mid-line.
type EmitSink struct {
	w *bufio.Writer
}

// New wraps w for buffered line output. Callers are responsible for
// calling Flush when done, and for closing w themselves if it needs closing.
func New(w io.Writer) *EmitSink {
	return &EmitSink{w: bufio.NewWriter(w)}
}

// Emit writes line followed by a newline.
func (s *EmitSink) Emit(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Flush flushes any buffered output to the underlying writer.
func (s *EmitSink) Flush() error {
	return s.w.Flush()
}
