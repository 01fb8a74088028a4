// Package chat produces the event streams served to chat clients: the idle
// heartbeat for empty prompts, and the generation stream relaying a remote
// completion while it is being produced.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/history"
	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/sse"
)

const (
	// DefaultSystemPrompt is the persona directive sent with every completion.
	DefaultSystemPrompt = "You are a helpful chatbot. You will help people with answers to their questions."

	// DefaultModel is the remote model completions are requested from.
	DefaultModel = "mistral-small"

	// DefaultKeepAlive is the interval between repeated frames on an idle stream.
	DefaultKeepAlive = 10 * time.Second

	// ErrorMarker introduces the diagnostic appended to the last frame when the
	// remote completion fails.
	ErrorMarker = "\n\n**Error:** completion request failed"
)

// ErrCompletion wraps every failure of the remote completion service.
var ErrCompletion = errors.New("completion failed")

// Settings are the tunables of a Generator. They can be swapped at runtime;
// a stream uses the settings current when it started.
type Settings struct {
	Model        string
	SystemPrompt string
	KeepAlive    time.Duration

	// MaxTurns bounds how many previous turns are sent as context.
	// Zero sends the whole transcript.
	MaxTurns int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Model:        DefaultModel,
		SystemPrompt: DefaultSystemPrompt,
		KeepAlive:    DefaultKeepAlive,
	}
}

// Generator streams completions to clients and records finished turns.
type Generator struct {
	completer llm.Completer
	history   history.Store
	logger    *zap.Logger
	settings  atomic.Pointer[Settings]
}

// NewGenerator creates a Generator. Zero fields of settings take their defaults.
func NewGenerator(completer llm.Completer, store history.Store, settings Settings, logger *zap.Logger) *Generator {
	g := &Generator{
		completer: completer,
		history:   store,
		logger:    logger,
	}
	g.SetSettings(settings)
	return g
}

// Settings returns the current settings.
func (g *Generator) Settings() Settings {
	return *g.settings.Load()
}

// SetSettings replaces the settings used by streams started from now on.
func (g *Generator) SetSettings(s Settings) {
	defaults := DefaultSettings()
	if s.Model == "" {
		s.Model = defaults.Model
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = defaults.SystemPrompt
	}
	if s.KeepAlive <= 0 {
		s.KeepAlive = defaults.KeepAlive
	}
	if s.MaxTurns < 0 {
		s.MaxTurns = 0
	}
	g.settings.Store(&s)
}

// Heartbeat emits an empty frame, then repeats it every keepalive interval
// until ctx is done or the client is gone.
func (g *Generator) Heartbeat(ctx context.Context, e sse.Emitter) error {
	s := g.Settings()

	if err := e.Emit(""); err != nil {
		return err
	}
	return sse.KeepAlive(ctx, e, "", s.KeepAlive)
}

// Generate streams the answer to prompt. Every non-empty token extends the
// answer and the whole answer so far is emitted as one frame. Once the remote
// stream ends the exchange is appended to the session history and the final
// frame is repeated every keepalive interval until ctx is done or the client
// is gone.
//
// When the completion fails a single diagnostic frame is emitted and an error
// wrapping ErrCompletion is returned; nothing is recorded.
func (g *Generator) Generate(ctx context.Context, e sse.Emitter, session, prompt string) error {
	s := g.Settings()
	if session == "" {
		session = history.DefaultSession
	}

	log := g.logger.With(zap.String("session", session))

	turns, err := g.history.Turns(ctx, session, s.MaxTurns)
	if err != nil {
		log.Error("failed to load history", zap.Error(err))
		return g.fail(e, history.Render(prompt, ""), fmt.Errorf("%w: load history: %v", ErrCompletion, err))
	}

	req := &llm.ChatRequest{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: s.SystemPrompt},
			{Role: llm.RoleUser, Content: BuildContext(turns, prompt)},
		},
	}

	log.Debug("requesting completion",
		zap.String("model", s.Model),
		zap.Int("context_turns", len(turns)),
		zap.String("prompt_preview", logger.Preview(prompt, 50)),
	)

	output := &strings.Builder{}
	output.WriteString(history.Render(prompt, ""))

	stream, err := g.completer.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("failed to open completion stream", zap.Error(err))
		return g.fail(e, output.String(), fmt.Errorf("%w: %v", ErrCompletion, err))
	}
	defer stream.Close()

	var (
		reply  strings.Builder
		last   string
		tokens int
	)

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("completion stream failed",
				zap.Int("tokens", tokens),
				zap.Error(err),
			)
			return g.fail(e, output.String(), fmt.Errorf("%w: %v", ErrCompletion, err))
		}

		if token == "" {
			continue
		}

		tokens++
		reply.WriteString(token)
		output.WriteString(token)
		last = output.String()

		if err := e.Emit(last); err != nil {
			return err
		}
	}

	// A finished exchange is recorded even if the stream is cancelled now.
	turn, err := g.history.Append(context.WithoutCancel(ctx), session, prompt, reply.String(), s.Model)
	if err != nil {
		// The client already has the full answer; keep the stream alive.
		log.Error("failed to store turn", zap.Error(err))
	} else {
		log.Info("turn stored",
			zap.String("hash", logger.Preview(turn.Hash, 16)),
			zap.Int("tokens", tokens),
		)
	}

	return sse.KeepAlive(ctx, e, last, s.KeepAlive)
}

// fail emits the diagnostic frame for a failed completion and returns err.
func (g *Generator) fail(e sse.Emitter, partial string, err error) error {
	if emitErr := e.Emit(partial + ErrorMarker); emitErr != nil {
		return emitErr
	}
	return err
}

// BuildContext renders the user message sent to the model: every previous turn
// of the session followed by the new prompt.
func BuildContext(turns []*history.Turn, prompt string) string {
	var b strings.Builder
	b.WriteString("Previous messages:\n")
	for _, t := range turns {
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	b.WriteString("Human: ")
	b.WriteString(prompt)
	return b.String()
}
