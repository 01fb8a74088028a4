package proxy

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatstream/pkg/history"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// SessionsResponse lists the sessions that have at least one turn.
type SessionsResponse struct {
	Count    int      `json:"count"`
	Sessions []string `json:"sessions"`
}

// TurnsResponse is a session transcript in chronological order.
type TurnsResponse struct {
	Session string          `json:"session"`
	Count   int             `json:"count"`
	Turns   []*history.Turn `json:"turns"`
}

// handleListSessions returns every session name.
func (p *Proxy) handleListSessions(c *fiber.Ctx) error {
	sessions, err := p.store.Sessions(c.Context())
	if err != nil {
		p.logger.Error("failed to list sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list sessions"})
	}

	if sessions == nil {
		sessions = []string{}
	}

	return c.JSON(SessionsResponse{
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// handleListTurns returns the transcript of ?session= (default session when
// absent), limited to the most recent ?limit= turns when given.
func (p *Proxy) handleListTurns(c *fiber.Ctx) error {
	session := c.Query("session", history.DefaultSession)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	turns, err := p.store.Turns(c.Context(), session, limit)
	if err != nil {
		p.logger.Error("failed to list turns", zap.String("session", session), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list turns"})
	}

	if turns == nil {
		turns = []*history.Turn{}
	}

	return c.JSON(TurnsResponse{
		Session: session,
		Count:   len(turns),
		Turns:   turns,
	})
}

// handleGetTurn returns a single turn by its hash.
func (p *Proxy) handleGetTurn(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "hash parameter required"})
	}

	turn, err := p.store.Get(c.Context(), hash)
	if err != nil {
		var notFound history.ErrNotFound
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "turn not found"})
		}
		p.logger.Error("failed to get turn", zap.String("hash", hash), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get turn"})
	}

	return c.JSON(turn)
}
