package logger

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// maxPartial bounds how much of an unterminated line is buffered before it is
// flushed as a line of its own.
const maxPartial = 64 * 1024

// PrefixWriter prefixes each line written through it with a local timestamp
// and the task name, e.g. "2024-05-01T10:00:00+0200 [backup] done".
// Every prefixed line reaches the underlying writer in a single Write.
type PrefixWriter struct {
	mu   sync.Mutex
	w    io.Writer
	task string
	buf  []byte

	// Now is the timestamp source; nil means time.Now.
	Now func() time.Time
}

func NewPrefixWriter(w io.Writer, task string) *PrefixWriter {
	return &PrefixWriter{w: w, task: task}
}

func (p *PrefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if err := p.emit(p.buf[:i]); err != nil {
			return 0, err
		}
		p.buf = p.buf[i+1:]
	}
	if len(p.buf) >= maxPartial {
		if err := p.emit(p.buf); err != nil {
			return 0, err
		}
		p.buf = nil
	}
	return len(b), nil
}

// Close flushes a trailing unterminated line and closes the underlying writer
// when it is an io.Closer.
func (p *PrefixWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if len(p.buf) > 0 {
		err = p.emit(p.buf)
		p.buf = nil
	}
	if c, ok := p.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *PrefixWriter) emit(line []byte) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	out := make([]byte, 0, len(TimeLayout)+len(p.task)+len(line)+5)
	out = now().AppendFormat(out, TimeLayout)
	out = append(out, " ["...)
	out = append(out, p.task...)
	out = append(out, "] "...)
	out = append(out, bytes.TrimSuffix(line, []byte("\r"))...)
	out = append(out, '\n')
	_, err := p.w.Write(out)
	return err
}

// CopyPrefixed copies src into dst line by line with the task prefix until src
// reaches EOF, then flushes and closes dst.
func CopyPrefixed(dst io.WriteCloser, src io.Reader, task string) error {
	pw := NewPrefixWriter(dst, task)
	_, err := io.Copy(pw, src)
	if cerr := pw.Close(); err == nil {
		err = cerr
	}
	return err
}
