package supabase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/tidwall/gjson"
)

// Identity is the authenticated user as reported by GoTrue.
type Identity struct {
	UserID      string
	Email       string
	Name        string
	AccessToken string
}

// Authenticator is the account surface the API needs from Supabase Auth.
type Authenticator interface {
	SignUp(ctx context.Context, email, password, name string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	Recover(ctx context.Context, email string) error
	SignOut(ctx context.Context, accessToken string) error
}

// AuthError carries the message GoTrue returned so it can be shown verbatim.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// extractProjectRef extracts just the project reference ID from a Supabase URL
// From: akrqbuajqkirdekonpzy.supabase.co
// To: akrqbuajqkirdekonpzy
func extractProjectRef(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	parts := strings.Split(url, ".")
	return parts[0]
}

// GoTrueAuth implements Authenticator with gotrue-go. The SDK has no context
// support, so ctx is only checked before each call.
type GoTrueAuth struct {
	client gotrue.Client
	logger *slog.Logger
}

// NewGoTrueAuth builds a client for a hosted project URL. Any other URL, such
// as a local Supabase stack, is treated as the base of the auth service.
func NewGoTrueAuth(supabaseURL, anonKey string, logger *slog.Logger) *GoTrueAuth {
	if logger == nil {
		logger = slog.Default()
	}

	var client gotrue.Client
	if strings.Contains(supabaseURL, ".supabase.co") {
		projectRef := extractProjectRef(supabaseURL)
		logger.Info("Initializing Supabase auth client", "project", projectRef)
		client = gotrue.New(projectRef, anonKey)
	} else {
		base := strings.TrimSuffix(supabaseURL, "/")
		logger.Info("Initializing Supabase auth client", "url", base)
		client = gotrue.New("", anonKey).WithCustomGoTrueURL(base + "/auth/v1")
	}

	return &GoTrueAuth{client: client, logger: logger.With("component", "auth")}
}

// Ping verifies the auth service answers.
func (a *GoTrueAuth) Ping() error {
	if _, err := a.client.GetSettings(); err != nil {
		return fmt.Errorf("failed to connect to Supabase: %w", err)
	}
	return nil
}

func (a *GoTrueAuth) SignUp(ctx context.Context, email, password, name string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	resp, err := a.client.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"name": name},
	})
	if err != nil {
		return Identity{}, a.authError("signup", err)
	}

	user := resp.User
	if user.ID == uuid.Nil {
		// autoconfirm projects answer with a session instead of a bare user
		user = resp.Session.User
	}
	if user.ID == uuid.Nil {
		return Identity{}, &AuthError{Op: "signup", Message: "sign-up returned no user"}
	}

	return Identity{
		UserID:      user.ID.String(),
		Email:       user.Email,
		Name:        name,
		AccessToken: resp.Session.AccessToken,
	}, nil
}

func (a *GoTrueAuth) SignIn(ctx context.Context, email, password string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	resp, err := a.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return Identity{}, a.authError("signin", err)
	}
	if resp.AccessToken == "" || resp.User.ID == uuid.Nil {
		return Identity{}, &AuthError{Op: "signin", Message: "invalid login response"}
	}

	name, _ := resp.User.UserMetadata["name"].(string)
	return Identity{
		UserID:      resp.User.ID.String(),
		Email:       resp.User.Email,
		Name:        name,
		AccessToken: resp.AccessToken,
	}, nil
}

func (a *GoTrueAuth) Recover(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.client.Recover(types.RecoverRequest{Email: email}); err != nil {
		return a.authError("recover", err)
	}
	return nil
}

func (a *GoTrueAuth) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if accessToken == "" {
		return nil
	}
	if err := a.client.WithToken(accessToken).Logout(); err != nil {
		return a.authError("logout", err)
	}
	return nil
}

func (a *GoTrueAuth) authError(op string, err error) *AuthError {
	msg := collaboratorMessage(err)
	a.logger.Warn("Supabase auth call failed", "op", op, "error", err)
	return &AuthError{Op: op, Message: msg, Err: err}
}

// collaboratorMessage pulls the human readable message out of a GoTrue error
// of the form "response status code 400: {json body}".
func collaboratorMessage(err error) string {
	text := err.Error()
	if i := strings.Index(text, "{"); i >= 0 {
		body := text[i:]
		if gjson.Valid(body) {
			for _, field := range []string{"msg", "error_description", "message", "error"} {
				if v := gjson.Get(body, field); v.Type == gjson.String && v.String() != "" {
					return v.String()
				}
			}
		}
	}
	return text
}
