// Package history records completed conversation turns per session. Turns are
// content-addressed and chained: every turn carries the hash of the turn before
// it in the same session, so a transcript can be verified and replayed.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultSession is the session used when a client does not name one. Every
// such client shares its history.
const DefaultSession = "default"

// Turn is one completed user prompt and model reply.
type Turn struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous turn of the session.
	// This will be nil for the first turn.
	ParentHash *string `json:"parent_hash"`

	Session string `json:"session"`
	Prompt  string `json:"prompt"`
	Reply   string `json:"reply"`

	// Text is the rendered exchange, exactly as it was last streamed to the client.
	Text string `json:"text"`

	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Render formats an exchange the way it is displayed and fed back as context.
func Render(prompt, reply string) string {
	return "**User:** " + prompt + "\n\n**Chatbot:** " + reply
}

// NewTurn creates a turn chained to parent, which is nil for a session's first turn.
func NewTurn(session, prompt, reply, model string, parent *Turn) *Turn {
	t := &Turn{
		Session:   session,
		Prompt:    prompt,
		Reply:     reply,
		Text:      Render(prompt, reply),
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}

	if parent != nil {
		parentHash := parent.Hash
		t.ParentHash = &parentHash
	}

	t.Hash = t.computeHash()
	return t
}

type hashInput struct {
	Session string `json:"session"`
	Parent  string `json:"parent,omitempty"`
	Text    string `json:"text"`
	Model   string `json:"model,omitempty"`
}

// computeHash calculates the content-addressed hash for a turn.
// CreatedAt is not part of the hash input.
func (t *Turn) computeHash() string {
	in := hashInput{
		Session: t.Session,
		Text:    t.Text,
		Model:   t.Model,
	}
	if t.ParentHash != nil {
		in.Parent = *t.ParentHash
	}

	data, err := json.Marshal(in)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
