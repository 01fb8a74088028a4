package proxy

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/chat"
	"github.com/papercomputeco/chatstream/pkg/history"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/sse"
)

// handleSSE answers a chat form submission with an event stream. An empty
// prompt gets the idle heartbeat; anything else is sent to the model and the
// answer is streamed back as it grows.
func (p *Proxy) handleSSE(c *fiber.Ctx) error {
	// Fiber reuses request memory once the handler returns, and the stream
	// writer outlives the handler.
	prompt := utils.CopyString(c.FormValue("prompt"))
	session := utils.CopyString(c.FormValue("session"))
	if session == "" {
		session = history.DefaultSession
	}

	requestID := uuid.NewString()
	log := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("session", session),
	)

	log.Debug("received chat request",
		zap.Bool("heartbeat", prompt == ""),
		zap.String("prompt_preview", logger.Preview(prompt, 50)),
	)

	c.Set(fiber.HeaderContentType, sse.ContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderTransferEncoding, "chunked")
	c.Set(fiber.HeaderXRequestID, requestID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		p.active.Add(1)
		defer p.active.Add(-1)

		ctx, cancel := context.WithCancel(p.ctx)
		defer cancel()

		startTime := time.Now()
		emitter := sse.NewWriter(w)

		var err error
		if prompt == "" {
			err = p.generator.Heartbeat(ctx, emitter)
		} else {
			err = p.generator.Generate(ctx, emitter, session, prompt)
		}

		fields := []zap.Field{
			zap.Int("frames", emitter.Frames()),
			zap.Duration("duration", time.Since(startTime)),
		}

		switch {
		case errors.Is(err, sse.ErrClosed):
			log.Debug("client disconnected", fields...)
		case errors.Is(err, context.Canceled):
			log.Debug("stream stopped by shutdown", fields...)
		case errors.Is(err, chat.ErrCompletion):
			log.Error("completion failed", append(fields, zap.Error(err))...)
		case err != nil:
			log.Warn("stream ended with error", append(fields, zap.Error(err))...)
		default:
			log.Debug("stream ended", fields...)
		}
	}))

	return nil
}
