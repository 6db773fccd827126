package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/inflight"
	"github.com/illegalcall/wingwoman/internal/ledger"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/pkg/supabase"
	"github.com/illegalcall/wingwoman/internal/saved"
	"github.com/illegalcall/wingwoman/internal/session"
	"github.com/illegalcall/wingwoman/internal/storage"
	"github.com/illegalcall/wingwoman/internal/store"
)

// bind parses the JSON body into req and validates it.
func (s *Server) bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	if err := s.validator.Struct(req); err != nil {
		return models.NewValidationError(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request data"
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// respondError maps an error to a status code and a fiber.Map body. Details of
// internal failures are logged, never returned.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	status, body := s.classify(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.Path(), "status", status, "error", err)
	} else {
		s.logger.Debug("Request rejected", "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(body)
}

func (s *Server) classify(err error) (int, fiber.Map) {
	var (
		domainErr *models.DomainError
		genErr    *generation.GenerationError
		authErr   *supabase.AuthError
	)

	switch {
	case errors.As(err, &genErr):
		return fiber.StatusBadGateway, fiber.Map{
			"error": "The assistant could not generate a response. Please try again.",
			"code":  models.ErrCodeGeneration,
		}
	case errors.As(err, &authErr):
		status := fiber.StatusBadRequest
		if authErr.Op == "signin" || authErr.Op == "logout" {
			status = fiber.StatusUnauthorized
		}
		return status, fiber.Map{"error": authErr.Message, "code": models.ErrCodeUnauthorized}
	case errors.As(err, &domainErr):
		return domainStatus(domainErr.Code), fiber.Map{"error": domainErr.Message, "code": domainErr.Code}
	case errors.Is(err, inflight.ErrBusy):
		return fiber.StatusConflict, fiber.Map{
			"error": "This request is already being processed",
			"code":  models.ErrCodeConflict,
		}
	case errors.Is(err, storage.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge, fiber.Map{"error": "Image is too large", "code": models.ErrCodeValidation}
	case badInput(err) != nil:
		return fiber.StatusBadRequest, fiber.Map{"error": userMessage(badInput(err)), "code": models.ErrCodeValidation}
	case errors.Is(err, session.ErrNoProfile):
		return fiber.StatusUnauthorized, fiber.Map{"error": "No profile for this account", "code": models.ErrCodeUnauthorized}
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "Not found", "code": models.ErrCodeNotFound}
	case errors.Is(err, ledger.ErrRemoteWrite):
		return fiber.StatusServiceUnavailable, fiber.Map{
			"error": "Could not save your profile right now. Please try again.",
			"code":  models.ErrCodeInternal,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, fiber.Map{"error": "Request timed out", "code": models.ErrCodeInternal}
	default:
		return fiber.StatusInternalServerError, fiber.Map{"error": "Internal server error", "code": models.ErrCodeInternal}
	}
}

func domainStatus(code string) int {
	switch code {
	case models.ErrCodeNotFound:
		return fiber.StatusNotFound
	case models.ErrCodeValidation:
		return fiber.StatusBadRequest
	case models.ErrCodeInsufficientCredits:
		return fiber.StatusPaymentRequired
	case models.ErrCodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.ErrCodeConflict:
		return fiber.StatusConflict
	case models.ErrCodeGeneration:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// inputErrors are caused by what the client sent.
var inputErrors = []error{
	generation.ErrImageCount,
	generation.ErrImageType,
	generation.ErrNothingToAssess,
	generation.ErrEmptyQuestion,
	storage.ErrNotAnImage,
	storage.ErrEmptySource,
	storage.ErrForbiddenHost,
	storage.ErrBadSource,
	saved.ErrEmptyMessage,
}

// badInput returns the input sentinel err wraps, or nil.
func badInput(err error) error {
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

// userMessage capitalizes a sentinel error for display, dropping any package prefix.
func userMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
