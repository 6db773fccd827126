package models

// SignupRequest represents a new account registration
type SignupRequest struct {
	// Display name shown on the profile
	Name string `json:"name" validate:"required,max=80" example:"Priya"`
	// User's email address
	Email string `json:"email" validate:"required,email" example:"user@example.com"`
	// User's password
	Password string `json:"password" validate:"required,min=6" example:"password123"`
}

// LoginRequest represents the login credentials
type LoginRequest struct {
	// User's email address
	Email string `json:"email" validate:"required,email" example:"user@example.com"`
	// User's password
	Password string `json:"password" validate:"required" example:"password123"`
}

// RecoverRequest asks for a password-reset link
type RecoverRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	// JWT token for authentication
	Token     string  `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	TokenType string  `json:"type" example:"Bearer"`
	Profile   Profile `json:"profile"`
}

type UpgradeRequest struct {
	Tier Tier `json:"tier" validate:"required,oneof=Free Basic Premium"`
}

type IcebreakerRequest struct {
	Interest string `json:"interest" validate:"required,max=200"`
	Context  string `json:"context" validate:"max=2000"`
}

type AskRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

// ImageSourcesRequest is the JSON form of an image upload: each source is an
// http(s) URL or base64 data.
type ImageSourcesRequest struct {
	Platform string   `json:"platform" validate:"max=40"`
	Question string   `json:"question" validate:"max=500"`
	Answer   string   `json:"answer" validate:"max=2000"`
	Sources  []string `json:"sources" validate:"max=6,dive,required"`
}

type ToggleSaveRequest struct {
	Icebreaker Icebreaker `json:"icebreaker"`
}

// APIResponse represents a generic API response
type APIResponse struct {
	// Status of the response (success/error)
	Status string `json:"status" example:"success"`
	// Response message
	Message string `json:"message" example:"Operation completed successfully"`
	// Optional data payload
	Data interface{} `json:"data,omitempty"`
}
