// Package logger provides opinionated logging capabilities for chatstream
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how a logger is built.
type Options struct {
	// Debug lowers the level to zap.DebugLevel.
	Debug bool

	// JSON switches from the colored console encoder to a JSON encoder,
	// which is what log shippers expect when running behind a supervisor.
	JSON bool

	// Output is where entries are written. Defaults to os.Stdout.
	Output io.Writer
}

// NewLogger returns the console logger used by the chatstream commands.
func NewLogger(debug bool) *zap.Logger {
	return New(Options{Debug: debug})
}

// New builds a zap logger from opts.
func New(opts Options) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.JSON {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)

	return zap.New(core, zap.AddCaller())
}

// Preview flattens s onto one line and cuts it to at most width cells,
// ending in "..." when shortened. Multi-byte characters are never split.
func Preview(s string, width int) string {
	return ansi.Truncate(strings.ReplaceAll(s, "\n", " "), width, "...")
}
