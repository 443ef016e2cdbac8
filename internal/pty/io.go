package pty

import (
	"io"
	"log"
	"time"

	ptyDevice "github.com/creack/pty"
)

// OutputSink receives child output as it is captured. Write is called
// from the capture goroutine, so implementations must be safe for
// concurrent use with their own readers.
type OutputSink interface {
	Write(data []byte) error
}

// captureLoop drains the PTY until it errors, which on every platform
// we support means the child is gone. It then reaps the child, emits
// the exit event and closes the event channel.
func (w *Wrapper) captureLoop() {
	buf := make([]byte, 4096)

	for {
		n, err := w.ptmx.Read(buf)
		if err != nil {
			w.closePTY()
			w.running.Store(false)
			_ = w.reap()

			w.emit(Event{
				Type:      "process_exited",
				Timestamp: time.Now(),
				PID:       w.pid,
				ExitCode:  int(w.exit.Load()),
			})
			w.closeEvents()
			return
		}

		w.retain(buf[:n])
		w.fanOut(buf[:n])
	}
}

// retain appends data to the bounded output buffer, evicting the oldest
// bytes once the limit is hit. Late WebSocket viewers replay this
// buffer to catch up on dev-server output they missed.
func (w *Wrapper) retain(data []byte) {
	w.retainedMu.Lock()
	defer w.retainedMu.Unlock()

	if excess := w.retained.Len() + len(data) - w.retainLimit; excess > 0 {
		w.retained.Next(excess)
	}
	w.retained.Write(data)
}

func (w *Wrapper) fanOut(data []byte) {
	w.sinksMu.RLock()
	defer w.sinksMu.RUnlock()

	for _, sink := range w.sinks {
		sink.Write(data)
	}
}

// AddSink registers an output consumer.
func (w *Wrapper) AddSink(sink OutputSink) {
	w.sinksMu.Lock()
	defer w.sinksMu.Unlock()
	w.sinks = append(w.sinks, sink)
}

// RemoveSink deregisters a sink previously passed to AddSink.
func (w *Wrapper) RemoveSink(sink OutputSink) {
	w.sinksMu.Lock()
	defer w.sinksMu.Unlock()

	for i, s := range w.sinks {
		if s == sink {
			w.sinks = append(w.sinks[:i], w.sinks[i+1:]...)
			return
		}
	}
	log.Printf("[PTY] sink not found for removal, current sinks: %d", len(w.sinks))
}

// SinkCount returns the number of registered sinks.
func (w *Wrapper) SinkCount() int {
	w.sinksMu.RLock()
	defer w.sinksMu.RUnlock()
	return len(w.sinks)
}

// Write sends data to the child's terminal, i.e. its stdin.
func (w *Wrapper) Write(data []byte) (int, error) {
	if w.ptmx == nil {
		return 0, io.ErrClosedPipe
	}
	return w.ptmx.Write(data)
}

// GetBuffer returns a copy of the retained output.
func (w *Wrapper) GetBuffer() []byte {
	w.retainedMu.RLock()
	defer w.retainedMu.RUnlock()

	if w.retained.Len() == 0 {
		return nil
	}
	return append([]byte(nil), w.retained.Bytes()...)
}

// SetWinSize resizes the child's terminal.
func (w *Wrapper) SetWinSize(rows, cols int) error {
	if w.ptmx == nil {
		return io.ErrClosedPipe
	}

	size := ptyDevice.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	}
	if err := ptyDevice.Setsize(w.ptmx, &size); err != nil {
		return err
	}

	w.rows.Store(int32(rows))
	w.cols.Store(int32(cols))
	return nil
}

// GetWinSize returns the last size applied through SetWinSize.
func (w *Wrapper) GetWinSize() (rows, cols int) {
	return int(w.rows.Load()), int(w.cols.Load())
}
