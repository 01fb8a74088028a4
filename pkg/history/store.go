package history

import "context"

// Store persists conversation turns. Individual operations are safe for
// concurrent use; a reader building context and a concurrent writer appending
// to the same session are not coordinated beyond that.
type Store interface {
	// Append records a completed exchange at the head of the session's transcript
	// and returns the stored turn.
	Append(ctx context.Context, session, prompt, reply, model string) (*Turn, error)

	// Turns returns the most recent limit turns of a session, oldest first.
	// A limit <= 0 returns the whole transcript.
	Turns(ctx context.Context, session string, limit int) ([]*Turn, error)

	// Get retrieves a turn by its hash. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, hash string) (*Turn, error)

	// Sessions lists every session holding at least one turn, sorted by name.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when a turn doesn't exist in the store.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	if e.Hash == "" {
		return "turn not found"
	}

	return "turn not found: " + e.Hash
}
