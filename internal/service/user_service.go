// Package service implements the registration, login and post workflows on top of the record store.
package service

import (
	"context"
	"errors"
	"log/slog"

	"postboard/internal/auth"
	"postboard/internal/middleware"
	"postboard/internal/models"
	"postboard/internal/observability"
	"postboard/internal/repository"
	"postboard/internal/validation"
)

type UserService struct {
	userRepo repository.UserRepository
	hasher   *auth.PasswordHasher
	tokens   auth.TokenService
}

type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func NewUserService(userRepo repository.UserRepository, hasher *auth.PasswordHasher, tokens auth.TokenService) *UserService {
	return &UserService{userRepo: userRepo, hasher: hasher, tokens: tokens}
}

// Register creates an account and returns it with a fresh token.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.AuthResponse, error) {
	if !validation.Present(in.Email, in.Username, in.Password) {
		observability.RecordAuth("register", "invalid")
		return nil, models.NewValidationError("Missing fields")
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		observability.RecordAuth("register", "invalid")
		return nil, models.NewValidationError("Password must be at least 8 characters and contain no spaces")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user, err := s.userRepo.CreateUser(ctx, in.Email, in.Username, digest)
	if errors.Is(err, repository.ErrDuplicateIdentity) {
		observability.RecordAuth("register", "conflict")
		return nil, models.NewConflictError("Email or username already exists")
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	token, err := s.tokens.Issue(models.TokenClaims{ID: user.ID, Username: user.Username})
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	observability.RecordAuth("register", "success")
	middleware.Logger.InfoContext(ctx, "user registered",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("username", user.Username),
	)
	return &models.AuthResponse{User: user, Token: token}, nil
}

// Login authenticates by email or username. Unknown identifiers and wrong passwords
// produce the same error.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*models.AuthResponse, error) {
	if !validation.Present(in.Identifier, in.Password) {
		observability.RecordAuth("login", "invalid")
		return nil, models.NewValidationError("Missing fields")
	}

	user, err := s.userRepo.FindUserByIdentifier(ctx, in.Identifier)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if user == nil || !s.hasher.Verify(in.Password, user.PasswordHash) {
		observability.RecordAuth("login", "failure")
		middleware.Logger.InfoContext(ctx, "login rejected")
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}

	token, err := s.tokens.Issue(models.TokenClaims{ID: user.ID, Username: user.Username})
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	observability.RecordAuth("login", "success")
	middleware.Logger.InfoContext(ctx, "user logged in", slog.Uint64("user_id", uint64(user.ID)))
	return &models.AuthResponse{User: user, Token: token}, nil
}
