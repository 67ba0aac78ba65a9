package logger

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// output is a log destination that receives records at or above min.
type output struct {
	w   io.Writer
	min slog.Level
}

type sink struct {
	buf *bufio.Writer
	min slog.Level
}

type entry struct {
	level slog.Level
	data  []byte
}

// asyncWriter fans formatted lines out to its sinks on one goroutine, so
// slow files never hold up handlers. Sink errors are kept and reported on
// Flush and Close; the other sinks keep receiving lines.
type asyncWriter struct {
	queue    chan entry
	flushReq chan chan error
	done     chan struct{}

	mu     sync.RWMutex
	closed bool

	sinks    []sink
	errMu    sync.Mutex
	writeErr error
}

func newAsyncWriter(bufSize int, outs ...output) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]sink, 0, len(outs))
	for _, o := range outs {
		if o.w == nil {
			continue
		}
		sinks = append(sinks, sink{buf: bufio.NewWriterSize(o.w, bufSize), min: o.min})
	}
	aw := &asyncWriter{
		queue:    make(chan entry, 256),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		sinks:    sinks,
	}
	go aw.loop()
	return aw
}

func (w *asyncWriter) loop() {
	defer close(w.done)
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				w.setErr(w.flushAll())
				return
			}
			w.setErr(w.writeAll(e))
		case ack := <-w.flushReq:
			ack <- w.flushAll()
		}
	}
}

// Write enqueues a copy of p. It blocks while the queue is full rather than
// drop lines, and fails once the writer is closed.
func (w *asyncWriter) Write(level slog.Level, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	data := make([]byte, len(p))
	copy(data, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.queue <- entry{level: level, data: data}
	return nil
}

// Flush waits until everything queued so far reached the sinks.
func (w *asyncWriter) Flush() error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return w.getErr()
	}
	ack := make(chan error, 1)
	w.flushReq <- ack
	w.mu.RUnlock()
	return errors.Join(<-ack, w.getErr())
}

// Close drains the queue and reports the first write error.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return w.getErr()
}

func (w *asyncWriter) writeAll(e entry) error {
	var errs []error
	for _, s := range w.sinks {
		if e.level < s.min {
			continue
		}
		if _, err := s.buf.Write(e.data); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.buf.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) flushAll() error {
	var errs []error
	for _, s := range w.sinks {
		if err := s.buf.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) getErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.writeErr
}

func (w *asyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.writeErr == nil {
		w.writeErr = err
	}
}
