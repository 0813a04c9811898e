package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// asyncWriter fans log lines out to every sink from a single goroutine, so
// callers never block on slow file or terminal writes unless the queue fills.
type asyncWriter struct {
	queue   chan []byte
	flushes chan chan error
	done    chan struct{}
	once    sync.Once

	sinks []*bufio.Writer

	errMu sync.Mutex
	err   error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		queue:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.loop()
	return w
}

func (w *asyncWriter) loop() {
	defer close(w.done)
	for {
		select {
		case line, ok := <-w.queue:
			if !ok {
				w.setErr(w.flushSinks())
				return
			}
			w.setErr(w.writeLine(line))
		case ack := <-w.flushes:
			ack <- w.flushSinks()
		}
	}
}

// Write copies p and enqueues it. A full queue blocks rather than drops.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.queue <- append([]byte(nil), p...)
	return nil
}

// Flush waits until every queued line has reached the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.firstErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.flushes <- ack
	return <-ack
}

// Close drains the queue and reports the first write error.
func (w *asyncWriter) Close() error {
	w.once.Do(func() { close(w.queue) })
	<-w.done
	return w.firstErr()
}

func (w *asyncWriter) writeLine(p []byte) error {
	for _, sink := range w.sinks {
		if _, err := sink.Write(p); err != nil {
			return err
		}
		if err := sink.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushSinks() error {
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) firstErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *asyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
