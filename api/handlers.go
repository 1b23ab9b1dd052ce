package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// defaultRecentLimit caps /usage/recent when no limit parameter is given.
const defaultRecentLimit = 50

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSummary returns aggregate usage, optionally scoped to one user
// via the "user" query parameter.
func (s *Server) handleSummary(c *fiber.Ctx) error {
	userID := c.Query("user")

	summary, err := s.store.Summary(c.Context(), userID)
	if err != nil {
		s.logger.Error("usage summary failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to summarize usage"})
	}

	return c.JSON(summary)
}

// handleRecent returns the most recent ledger entries, newest first.
func (s *Server) handleRecent(c *fiber.Ctx) error {
	userID := c.Query("user")

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}

	entries, err := s.store.ListRecent(c.Context(), userID, limit)
	if err != nil {
		s.logger.Error("usage list failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to list usage"})
	}

	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}
