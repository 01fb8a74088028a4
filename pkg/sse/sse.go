// Package sse implements the server-sent events framing chatstream speaks:
// every frame is exactly "data: <payload>\n\n", without event names, ids or
// retry fields.
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ContentType is the media type of an event stream response.
const ContentType = "text/event-stream"

// ErrClosed is returned by Writer.Emit once the client can no longer be reached.
var ErrClosed = errors.New("sse: client connection closed")

// Frame encodes payload as a single frame. The payload is written verbatim.
func Frame(payload string) []byte {
	b := make([]byte, 0, len(payload)+8)
	b = append(b, "data: "...)
	b = append(b, payload...)
	b = append(b, "\n\n"...)
	return b
}

// Emitter delivers frames to one client.
type Emitter interface {
	// Emit sends payload as one frame. An error means the frame was not
	// delivered and no later frame will be either.
	Emit(payload string) error
}

// FlushWriter is a buffered writer whose Flush pushes data to the connection,
// such as the *bufio.Writer handed out by fasthttp stream writers.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// Writer is an Emitter over a FlushWriter. Each frame is flushed immediately
// so the browser renders it without waiting for more output.
type Writer struct {
	mu     sync.Mutex
	w      FlushWriter
	frames int
	err    error
}

// NewWriter wraps w.
func NewWriter(w FlushWriter) *Writer {
	return &Writer{w: w}
}

// Emit implements Emitter. After the first failure every call returns ErrClosed.
func (w *Writer) Emit(payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}

	if _, err := w.w.Write(Frame(payload)); err != nil {
		w.err = fmt.Errorf("%w: %v", ErrClosed, err)
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = fmt.Errorf("%w: %v", ErrClosed, err)
		return w.err
	}

	w.frames++
	return nil
}

// Frames returns the number of frames delivered so far.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// KeepAlive re-sends payload every interval so the client does not treat the
// idle connection as dropped. It returns when ctx is done or when a frame can
// no longer be delivered, whichever comes first.
func KeepAlive(ctx context.Context, e Emitter, payload string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("keepalive interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Emit(payload); err != nil {
				return err
			}
		}
	}
}
