package proxy

import (
	"time"

	"github.com/papercomputeco/chatstream/pkg/chat"
)

// Config is the chat server configuration.
type Config struct {
	// Address to listen on (e.g., ":8000")
	ListenAddr string

	// DBPath is the path to the SQLite history archive.
	// Empty keeps history in memory for the lifetime of the process.
	DBPath string

	// Settings are handed to the generator. MaxTurns also bounds the
	// in-memory store.
	Settings chat.Settings

	// ShutdownTimeout bounds how long Shutdown waits for open connections.
	// Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// DefaultShutdownTimeout is used when Config.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 5 * time.Second
