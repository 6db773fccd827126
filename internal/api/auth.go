package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	jwtv4 "github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/pkg/supabase"
	"github.com/illegalcall/wingwoman/internal/session"
	"github.com/illegalcall/wingwoman/internal/store"
)

const sessionKey = "session"

func (s *Server) handleSignup(c *fiber.Ctx) error {
	var req models.SignupRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}

	s.logger.Info("Sign-up attempt", "email", req.Email)

	identity, err := s.auth.SignUp(c.UserContext(), req.Email, req.Password, req.Name)
	if err != nil {
		return s.respondError(c, err)
	}

	// Projects that require e-mail confirmation return no session yet; the
	// profile row is still created so the first sign-in finds it.
	if identity.AccessToken == "" {
		profile, err := store.Provision(c.UserContext(), s.store, identity.UserID, req.Name, identity.Email)
		if err != nil {
			return s.respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "Check your e-mail to confirm your account",
			"profile": profile,
		})
	}

	identity.Name = req.Name
	resp, err := s.startSession(c, identity)
	if err != nil {
		return s.respondError(c, err)
	}

	s.logger.Info("User signed up", "user_id", identity.UserID)
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}

	s.logger.Info("Authentication attempt", "email", req.Email)

	identity, err := s.auth.SignIn(c.UserContext(), req.Email, req.Password)
	if s.metrics != nil {
		s.metrics.RecordLoginAttempt(err == nil)
	}
	if err != nil {
		return s.respondError(c, err)
	}

	resp, err := s.startSession(c, identity)
	if err != nil {
		return s.respondError(c, err)
	}

	s.logger.Info("User successfully authenticated", "user_id", identity.UserID)
	return c.JSON(resp)
}

func (s *Server) handleRecover(c *fiber.Ctx) error {
	var req models.RecoverRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}

	if err := s.auth.Recover(c.UserContext(), req.Email); err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(models.APIResponse{
		Status:  "success",
		Message: "If an account exists for this address, a reset link is on its way",
	})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	sess := currentSession(c)

	closed := s.sessions.Close(sess.UserID)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
	}
	if closed != nil {
		if err := s.auth.SignOut(c.UserContext(), closed.AccessToken()); err != nil {
			s.logger.Warn("Upstream sign-out failed", "user_id", sess.UserID, "error", err)
		}
	}

	return c.JSON(models.APIResponse{Status: "success", Message: "Signed out"})
}

// startSession opens the in-memory session and issues the API token.
func (s *Server) startSession(c *fiber.Ctx, identity supabase.Identity) (models.LoginResponse, error) {
	sess, err := s.sessions.Open(c.UserContext(), identity.UserID, identity.Name, identity.Email, identity.AccessToken)
	if err != nil {
		return models.LoginResponse{}, err
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
	}

	token, err := s.issueToken(identity.UserID, identity.Email)
	if err != nil {
		return models.LoginResponse{}, err
	}

	return models.LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		Profile:   sess.Ledger.Profile(),
	}, nil
}

func (s *Server) issueToken(userID, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"exp":   now.Add(s.cfg.JWT.Expiration).Unix(),
		"iat":   now.Unix(),
	})
	return token.SignedString([]byte(s.cfg.JWT.Secret))
}

// requireSession runs after the JWT middleware and attaches the caller's session.
func (s *Server) requireSession(c *fiber.Ctx) error {
	userID, err := tokenSubject(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
			"code":  models.ErrCodeUnauthorized,
		})
	}

	sess, err := s.sessions.Get(c.UserContext(), userID)
	if err != nil {
		return s.respondError(c, err)
	}
	c.Locals(sessionKey, sess)
	return c.Next()
}

// tokenSubject reads the user id from the token the JWT middleware verified.
func tokenSubject(c *fiber.Ctx) (string, error) {
	token, ok := c.Locals("user").(*jwtv4.Token)
	if !ok {
		return "", errors.New("missing token")
	}
	claims, ok := token.Claims.(jwtv4.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func currentSession(c *fiber.Ctx) *session.Session {
	return c.Locals(sessionKey).(*session.Session)
}
