package logsink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LaunchLog is one open per-launch log file. Both stdout and stderr of the
// child are funneled through the same timestamping writer.
type LaunchLog struct {
	name   string
	file   *os.File
	writer *lineWriter

	closeOnce sync.Once
	closeErr  error
}

// Name returns the log file name.
func (l *LaunchLog) Name() string {
	return l.name
}

// Writer returns the timestamping writer for the child's output streams.
func (l *LaunchLog) Writer() io.Writer {
	return l.writer
}

// Close flushes any buffered partial line and closes the file. Safe to call
// more than once.
func (l *LaunchLog) Close() error {
	l.closeOnce.Do(func() {
		l.writer.Flush()
		l.closeErr = l.file.Close()
	})
	return l.closeErr
}

// lineWriter buffers bytes until a newline and prepends a UTC timestamp to
// each complete line. Chunk boundaries do not have to coincide with
// newlines; the leftover tail is flushed as one final timestamped line on
// close.
type lineWriter struct {
	mu  sync.Mutex
	dst io.Writer
	buf []byte
}

func newLineWriter(dst io.Writer) *lineWriter {
	return &lineWriter{dst: dst}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := w.buf[:i]
		w.buf = w.buf[i+1:]
		if err := w.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered tail as a final timestamped line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return
	}
	_ = w.writeLine(w.buf)
	w.buf = nil
}

func (w *lineWriter) writeLine(line []byte) error {
	line = bytes.TrimSuffix(line, []byte("\r"))
	_, err := fmt.Fprintf(w.dst, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), line)
	return err
}
