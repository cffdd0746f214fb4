// Package server contains the HTTP handlers and routing for the postboard API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postboard/internal/auth"
	"postboard/internal/cache"
	"postboard/internal/config"
	"postboard/internal/middleware"
	"postboard/internal/models"
	"postboard/internal/observability"
	"postboard/internal/repository"
	"postboard/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	store          repository.Store
	redis          *redis.Client
	cache          *cache.Cache
	tokens         auth.TokenService
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	userService    *service.UserService
	postService    *service.PostService
}

// NewServer opens the record store and Redis described by cfg and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	store, err := repository.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("record store open failed: %w", err)
	}

	redisClient := cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, store, redisClient, nil)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil. A nil tokens service is built from cfg.
func NewServerWithDeps(cfg *config.Config, store repository.Store, redisClient *redis.Client, tokens auth.TokenService) (*Server, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if tokens == nil {
		tokens = auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
	}

	server := &Server{
		config:         cfg,
		store:          store,
		redis:          redisClient,
		cache:          cache.New(redisClient),
		tokens:         tokens,
		promMiddleware: middleware.InitMetrics(observability.ServiceName),
	}
	server.userService = service.NewUserService(store, auth.NewPasswordHasher(auth.DefaultBcryptCost), tokens)
	server.postService = service.NewPostService(store, store, server.cache, cfg.FeedCacheTTL)

	app := fiber.New(fiber.Config{
		AppName:      "Postboard API",
		ErrorHandler: server.errorHandler,
	})
	server.SetupMiddleware(app)
	server.SetupRoutes(app)
	server.app = app

	return server, nil
}

// App returns the configured Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler renders errors that escape handlers (unknown routes, wrong methods, panics)
// as the standard JSON error body.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) && fiberErr.Code == fiber.StatusMethodNotAllowed {
		err = fiber.NewError(fiber.StatusMethodNotAllowed, "Method not allowed")
	}

	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "unhandled error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:3000,http://localhost:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		MaxAge:       86400, // 24 hours
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	s.registerAPI(app)
	s.registerAPI(app.Group("/api/v1"))
}

// registerAPI mounts the public API on r. Groups are created without handlers so that no
// catch-all middleware routes shadow the method-not-allowed detection.
func (s *Server) registerAPI(r fiber.Router) {
	authRoutes := r.Group("/auth")
	authRoutes.Post("/register", middleware.RateLimit(
		s.redis, s.config.Env, 5, 10*time.Minute, "register"), s.Register)
	authRoutes.Post("/login", middleware.RateLimit(
		s.redis, s.config.Env, 10, 5*time.Minute, "login"), s.Login)

	r.Get("/posts", s.GetPosts)
	r.Post("/posts", s.AuthRequired(), s.CreatePost)
	r.Get("/posts/:id", s.GetPost)
	r.Put("/posts/:id", s.AuthRequired(), s.UpdatePost)
	r.Delete("/posts/:id", s.AuthRequired(), s.DeletePost)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the record store (and Redis, when configured) respond.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if err := s.store.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.cache.Enabled() {
		redisStatus = "healthy"
		if err := s.cache.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns middleware that admits only requests carrying a valid bearer token.
// The caller's claims are stored in locals under "claims" and "userID".
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
		if !ok {
			observability.RecordAuth("token", "missing")
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Unauthorized"))
		}

		claims, ok := s.tokens.Verify(token)
		if !ok {
			observability.RecordAuth("token", "invalid")
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Unauthorized"))
		}

		c.Locals("claims", claims)
		c.Locals("userID", claims.ID)
		// Sync to UserContext for logging and downstream services
		c.SetUserContext(middleware.WithUserID(c.UserContext(), claims.ID))

		return c.Next()
	}
}

// Start starts the server
func (s *Server) Start() error {
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully stops the HTTP server and releases the store and Redis.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
		}
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing record store: %w", err))
	}

	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing redis: %w", err))
	}

	middleware.Logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}
