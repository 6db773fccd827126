package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/wingwoman/internal/models"
)

func (s *Server) handleListSaved(c *fiber.Ctx) error {
	sess := currentSession(c)
	items := sess.Saved.Filter(c.Query("q"), c.Query("category"))
	return c.JSON(fiber.Map{"items": items, "count": len(items)})
}

func (s *Server) handleSavedCategories(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"categories": currentSession(c).Saved.Categories()})
}

func (s *Server) handleCheckSaved(c *fiber.Ctx) error {
	text := c.Query("text")
	if strings.TrimSpace(text) == "" {
		return s.respondError(c, models.NewValidationError("text is required"))
	}
	return c.JSON(fiber.Map{"saved": currentSession(c).Saved.IsSaved(text)})
}

func (s *Server) handleToggleSave(c *fiber.Ctx) error {
	var req models.ToggleSaveRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	sess := currentSession(c)

	result, err := sess.Saved.ToggleSave(c.UserContext(), req.Icebreaker)
	if err != nil {
		return s.respondError(c, err)
	}
	if s.metrics != nil {
		s.metrics.RecordToggle(result.Saved)
	}

	kind := models.EventItemUnsaved
	if result.Saved {
		kind = models.EventItemSaved
	}
	s.publish(models.UsageEvent{
		UserID:       sess.UserID,
		Kind:         kind,
		CreditsAfter: sess.Ledger.Balance(),
	})

	status := fiber.StatusOK
	if result.Saved {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(result)
}

func (s *Server) handleDeleteSaved(c *fiber.Ctx) error {
	id := c.Params("id")
	sess := currentSession(c)

	if err := sess.Saved.Delete(c.UserContext(), id); err != nil {
		return s.respondError(c, err)
	}
	if s.metrics != nil {
		s.metrics.RecordToggle(false)
	}
	s.publish(models.UsageEvent{
		UserID:       sess.UserID,
		Kind:         models.EventItemUnsaved,
		CreditsAfter: sess.Ledger.Balance(),
	})

	return c.JSON(models.APIResponse{Status: "success", Message: "Saved icebreaker deleted"})
}
