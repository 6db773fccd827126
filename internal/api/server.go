package api

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/illegalcall/wingwoman/internal/config"
	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/metrics"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/pkg/supabase"
	"github.com/illegalcall/wingwoman/internal/session"
	"github.com/illegalcall/wingwoman/internal/storage"
	"github.com/illegalcall/wingwoman/internal/store"
)

// Generator is the generation surface the handlers call.
type Generator interface {
	AssessProfile(ctx context.Context, images []generation.Image, platform string) (string, error)
	GenerateIcebreakers(ctx context.Context, interest, matchContext string) (models.IcebreakerSet, error)
	AnalyzePrompt(ctx context.Context, question, answer string, image *generation.Image) (string, error)
	AskAssistant(ctx context.Context, question string, transcript []models.ChatMessage) (string, error)
}

// UsagePublisher ships usage events to the worker.
type UsagePublisher interface {
	Publish(ctx context.Context, event models.UsageEvent) error
}

// Guard rejects duplicate submissions of the same action.
type Guard interface {
	Acquire(ctx context.Context, userID, action string) (func(), error)
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Auth      supabase.Authenticator
	Store     store.ProfileStore
	Sessions  *session.Manager
	Generator Generator
	Storage   storage.Storage
	Guard     Guard
	Publisher UsagePublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	auth      supabase.Authenticator
	store     store.ProfileStore
	sessions  *session.Manager
	gen       Generator
	storage   storage.Storage
	guard     Guard
	publisher UsagePublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	validator *validator.Validate
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	app := fiber.New(fiber.Config{
		// base64 sources inflate uploads by a third
		BodyLimit: int(cfg.Storage.MaxSize)*generation.MaxAssessmentImages*2 + 1<<20,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status}\n",
	}))
	if deps.Metrics != nil {
		app.Use(deps.Metrics.Middleware())
	}
	if cfg.Server.MaxRequests > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Server.MaxRequests,
			Expiration: cfg.Server.RequestTimeout,
		}))
	}

	server := &Server{
		app:       app,
		cfg:       cfg,
		auth:      deps.Auth,
		store:     deps.Store,
		sessions:  deps.Sessions,
		gen:       deps.Generator,
		storage:   deps.Storage,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    log.With("component", "api"),
		validator: validator.New(),
	}

	// Routes
	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	// Public routes
	api.Post("/auth/signup", s.handleSignup)
	api.Post("/auth/login", s.handleLogin)
	api.Post("/auth/recover", s.handleRecover)

	// Protected routes
	protected := api.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(s.cfg.JWT.Secret),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
				"code":  models.ErrCodeUnauthorized,
			})
		},
	}), s.requireSession)

	protected.Post("/auth/logout", s.handleLogout)

	protected.Get("/profile", s.handleGetProfile)
	protected.Post("/profile/upgrade", s.handleUpgrade)
	protected.Post("/profile/reset-credits", s.handleResetCredits)

	protected.Post("/assessments", s.handleAssessProfile)
	protected.Post("/icebreakers", s.handleGenerateIcebreakers)
	protected.Post("/prompts/analyze", s.handleAnalyzePrompt)
	protected.Post("/ama", s.handleAsk)
	protected.Get("/ama/transcript", s.handleTranscript)

	protected.Get("/saved", s.handleListSaved)
	protected.Get("/saved/categories", s.handleSavedCategories)
	protected.Get("/saved/check", s.handleCheckSaved)
	protected.Post("/saved/toggle", s.handleToggleSave)
	protected.Delete("/saved/:id", s.handleDeleteSaved)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops accepting requests and flushes every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.sessions.CloseAll()
	return err
}
