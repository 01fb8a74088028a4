package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoScriptedTurn is returned by MockCompleter when every scripted turn
// has already been consumed.
var ErrNoScriptedTurn = errors.New("mock: no scripted turn left")

// MockTurn is one scripted completion served by MockCompleter.
type MockTurn struct {
	Tokens    []string      // Tokens to emit, in order
	Delay     time.Duration // Optional pause before each token
	OpenErr   error         // Returned by Stream instead of opening a stream
	StreamErr error         // Delivered after Tokens, instead of io.EOF
	Hold      bool          // Keep the stream open after Tokens until ctx is done
}

// MockCompleter is a Completer serving scripted turns. It records every request
// so tests can inspect the context that was built.
type MockCompleter struct {
	mu        sync.Mutex
	turns     []MockTurn
	turnIndex int
	requests  []ChatRequest
}

// NewMockCompleter returns a mock serving the given turns in order.
func NewMockCompleter(turns ...MockTurn) *MockCompleter {
	return &MockCompleter{turns: turns}
}

// AddTokens scripts a turn that streams tokens and completes.
func (m *MockCompleter) AddTokens(tokens ...string) *MockCompleter {
	return m.AddTurn(MockTurn{Tokens: tokens})
}

// AddTurn scripts a turn and returns the mock for chaining.
func (m *MockCompleter) AddTurn(t MockTurn) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// Requests returns a copy of the requests received so far.
func (m *MockCompleter) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Stream implements Completer.
func (m *MockCompleter) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, ErrNoScriptedTurn
	}
	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}

	return newTokenStream(ctx, func(ctx context.Context, tokens chan<- string) error {
		for _, token := range turn.Tokens {
			if turn.Delay > 0 {
				select {
				case <-time.After(turn.Delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Hold {
			<-ctx.Done()
			return ctx.Err()
		}
		return turn.StreamErr
	}), nil
}
