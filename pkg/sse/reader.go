package sse

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"
)

var (
	framePrefix    = []byte("data: ")
	frameSeparator = []byte("\n\ndata: ")
	frameSuffix    = []byte("\n\n")
)

// Reader splits an event stream back into payloads.
//
// Payloads may themselves contain blank lines (chat answers are markdown), so
// a frame only ends where the next "data: " begins or at the end of the stream.
// The most recent frame is therefore returned once its successor starts
// arriving, which keepalive frames guarantee on a live connection.
type Reader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	started bool
	eof     bool

	// Used by Latest.
	last    string
	hasLast bool
	done    bool
}

// Update is the view of the stream returned by Latest.
type Update struct {
	// Payload of the newest frame, which may still be arriving.
	Payload string

	// Complete reports that Payload is a whole frame: its successor has
	// started or the stream has ended.
	Complete bool

	// Repeat reports a whole frame identical to the one before it, which is
	// how the server keeps an idle connection alive once an answer is done.
	Repeat bool
}

// NewReader reads frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, 4096)}
}

// Next returns the next payload, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (string, error) {
	for {
		if !r.started && len(r.pending) >= len(framePrefix) {
			if !bytes.HasPrefix(r.pending, framePrefix) {
				return "", errors.New("sse: stream does not start with a data frame")
			}
			r.pending = r.pending[len(framePrefix):]
			r.started = true
		}

		if r.started {
			if idx := bytes.Index(r.pending, frameSeparator); idx >= 0 {
				payload := string(r.pending[:idx])
				r.pending = r.pending[idx+len(frameSeparator):]
				return payload, nil
			}
		}

		if r.eof {
			if !r.started || len(r.pending) == 0 {
				return "", io.EOF
			}
			payload := string(bytes.TrimSuffix(r.pending, frameSuffix))
			r.pending = nil
			return payload, nil
		}

		n, err := r.r.Read(r.buf)
		r.pending = append(r.pending, r.buf[:n]...)
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			return "", err
		}
	}
}

// Latest reads the next chunk of the stream and returns the newest frame in
// view, including one that is still arriving. Frames carry the whole answer so
// far, so a live display only needs the newest. Frames completed by the same
// chunk are skipped. A frame counts as whole only once the next "data: " or the
// end of the stream arrives, since a payload may itself end in a blank line.
// Latest returns io.EOF once the stream has ended and its final frame was
// returned. Do not mix calls to Latest and Next.
func (r *Reader) Latest() (Update, error) {
	if r.done {
		return Update{}, io.EOF
	}

	if !r.eof {
		n, err := r.r.Read(r.buf)
		r.pending = append(r.pending, r.buf[:n]...)
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			return Update{}, err
		}
	}

	if !r.started {
		if len(r.pending) < len(framePrefix) {
			if r.eof {
				r.done = true
				if len(r.pending) == 0 {
					return Update{}, io.EOF
				}
				return Update{}, errors.New("sse: stream does not start with a data frame")
			}
			return Update{}, nil
		}
		if !bytes.HasPrefix(r.pending, framePrefix) {
			return Update{}, errors.New("sse: stream does not start with a data frame")
		}
		r.pending = r.pending[len(framePrefix):]
		r.started = true
	}

	repeat := false
	for {
		idx := bytes.Index(r.pending, frameSeparator)
		if idx < 0 {
			break
		}
		r.complete(string(r.pending[:idx]), &repeat)
		r.pending = r.pending[idx+len(frameSeparator):]
	}

	if r.eof {
		r.done = true
		if len(r.pending) > 0 || !r.hasLast {
			r.complete(string(bytes.TrimSuffix(r.pending, frameSuffix)), &repeat)
			r.pending = nil
		}
		return Update{Payload: r.last, Complete: true, Repeat: repeat}, nil
	}

	if repeat {
		return Update{Payload: r.last, Complete: true, Repeat: true}, nil
	}

	return r.inProgress(), nil
}

// complete records a whole frame and flags it when it repeats its predecessor.
func (r *Reader) complete(frame string, repeat *bool) {
	if r.hasLast && frame == r.last {
		*repeat = true
	}
	r.last = frame
	r.hasLast = true
}

// inProgress reports the frame still arriving. Until it has grown past the
// last whole frame, that frame is shown instead.
func (r *Reader) inProgress() Update {
	partial := bytes.TrimSuffix(wholeRunes(r.pending), frameSuffix)
	if r.hasLast && (len(partial) <= len(r.last) || !bytes.HasPrefix(partial, []byte(r.last))) {
		return Update{Payload: r.last, Complete: true}
	}
	return Update{Payload: string(partial)}
}

// wholeRunes drops a multi-byte character cut off at the end of b.
func wholeRunes(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
