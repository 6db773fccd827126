package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/session"
)

const publishTimeout = 3 * time.Second

func (s *Server) handleGetProfile(c *fiber.Ctx) error {
	sess := currentSession(c)
	profile := sess.Ledger.Profile()

	return c.JSON(fiber.Map{
		"profile":    profile,
		"allotment":  profile.Tier.Allotment(),
		"next_reset": profile.LastReset.Add(s.cfg.Credits.ResetInterval),
		"costs": fiber.Map{
			"assessment":      sess.AssessmentCost(),
			"icebreakers":     models.CostIcebreaker,
			"prompt_analysis": models.CostPromptAnalyzer,
			"ama_question":    models.CostAMAQuestion,
		},
	})
}

func (s *Server) handleUpgrade(c *fiber.Ctx) error {
	var req models.UpgradeRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}

	sess := currentSession(c)
	if err := sess.Ledger.Upgrade(c.UserContext(), req.Tier); err != nil {
		return s.respondError(c, err)
	}

	profile := sess.Ledger.Profile()
	if s.metrics != nil {
		s.metrics.Upgrades.WithLabelValues(string(req.Tier)).Inc()
	}
	s.publish(models.UsageEvent{
		UserID:       sess.UserID,
		Kind:         models.EventTierUpgraded,
		CreditsAfter: profile.Credits,
	})

	return c.JSON(fiber.Map{"profile": profile})
}

// handleResetCredits runs the weekly refill on demand. Before the interval has
// passed it answers 409 and leaves the balance alone.
func (s *Server) handleResetCredits(c *fiber.Ctx) error {
	sess := currentSession(c)
	reset, err := sess.Ledger.ResetIfDue(c.UserContext())
	if err != nil {
		return s.respondError(c, err)
	}

	profile := sess.Ledger.Profile()
	if !reset {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      "Credits are not due for a refill yet",
			"code":       models.ErrCodeConflict,
			"credits":    profile.Credits,
			"next_reset": profile.LastReset.Add(s.cfg.Credits.ResetInterval),
		})
	}

	s.publish(models.UsageEvent{
		UserID:       sess.UserID,
		Kind:         models.EventCreditsReset,
		CreditsAfter: profile.Credits,
	})

	return c.JSON(fiber.Map{"profile": profile})
}

// spend gates a paid action: it rejects a duplicate submission, then deducts
// cost from the session ledger. The returned release func must be called when
// the action completes.
func (s *Server) spend(c *fiber.Ctx, sess *session.Session, action string, cost float64, activity models.Activity) (func(), error) {
	release := func() {}
	if s.guard != nil {
		r, err := s.guard.Acquire(c.UserContext(), sess.UserID, action)
		if err != nil {
			return nil, err
		}
		release = r
	}

	ok := sess.Ledger.TrySpend(cost, activity)
	if s.metrics != nil {
		s.metrics.RecordSpend(string(activity), cost, ok)
	}
	if !ok {
		release()
		return nil, errInsufficientCredits
	}

	s.publish(models.UsageEvent{
		UserID:       sess.UserID,
		Kind:         models.EventCreditsSpent,
		Activity:     activity,
		Amount:       cost,
		CreditsAfter: sess.Ledger.Balance(),
	})
	return release, nil
}

var errInsufficientCredits = &models.DomainError{
	Code:    models.ErrCodeInsufficientCredits,
	Message: "Not enough credits for this action",
}

// rejectSpend answers a failed spend. Running out of credits gets a 402 that
// prompts the client to upgrade.
func (s *Server) rejectSpend(c *fiber.Ctx, sess *session.Session, cost float64, err error) error {
	if !errors.Is(err, errInsufficientCredits) {
		return s.respondError(c, err)
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":   "Not enough credits for this action",
		"code":    models.ErrCodeInsufficientCredits,
		"upgrade": true,
		"credits": sess.Ledger.Balance(),
		"cost":    cost,
	})
}

// publish sends a usage event without failing the request.
func (s *Server) publish(event models.UsageEvent) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := s.publisher.Publish(ctx, event)
	if s.metrics != nil {
		s.metrics.RecordPublish(err)
	}
	if err != nil {
		s.logger.Warn("Failed to publish usage event", "kind", event.Kind, "user_id", event.UserID, "error", err)
	}
}
