package llm

import (
	"context"
	"io"
)

// Completer opens streaming chat completions against a remote model.
type Completer interface {
	// Stream starts a completion. Tokens are read from the returned Stream
	// until it reports io.EOF. Cancelling ctx aborts the upstream request.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)
}

// Stream is an incremental sequence of generated tokens.
type Stream interface {
	// Recv returns the next token, io.EOF once the remote side has closed
	// the stream, or the error that ended it.
	Recv() (string, error)

	// Close releases the stream and cancels the upstream request.
	Close() error
}

type chunk struct {
	token string
	err   error
}

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks <-chan chunk
}

// newTokenStream runs produce in its own goroutine and exposes what it sends
// as a Stream. A non-nil error returned by produce is delivered after every
// token already sent.
func newTokenStream(ctx context.Context, produce func(context.Context, chan<- string) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	tokens := make(chan string)
	ch := make(chan chunk, 16)

	go func() {
		defer close(ch)

		done := make(chan error, 1)
		go func() {
			defer close(tokens)
			done <- produce(streamCtx, tokens)
		}()

		for token := range tokens {
			select {
			case ch <- chunk{token: token}:
			case <-streamCtx.Done():
			}
		}

		if err := <-done; err != nil {
			select {
			case ch <- chunk{err: err}:
			case <-streamCtx.Done():
			}
		}
	}()

	return &channelStream{ctx: streamCtx, cancel: cancel, chunks: ch}
}

func (s *channelStream) Recv() (string, error) {
	// Drain anything already buffered before looking at ctx so the final
	// tokens are not lost when cancellation races the end of the stream.
	select {
	case c, ok := <-s.chunks:
		return s.unwrap(c, ok)
	default:
	}

	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case c, ok := <-s.chunks:
		return s.unwrap(c, ok)
	}
}

func (s *channelStream) unwrap(c chunk, ok bool) (string, error) {
	if !ok {
		return "", io.EOF
	}
	if c.err != nil {
		return "", c.err
	}
	return c.token, nil
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}
