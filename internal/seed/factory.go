// Package seed provides helpers to create demo users and posts in a record store.
// These helpers are intended for development and testing only.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"postboard/internal/auth"
	"postboard/internal/middleware"
	"postboard/internal/models"
	"postboard/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// DefaultPassword is the plaintext password given to every seeded user.
const DefaultPassword = "password123"

// maxIdentityAttempts bounds the retries when a generated email or username is taken.
const maxIdentityAttempts = 5

// Options controls a seeding run.
type Options struct {
	Users int
	Posts int
	// Seed fixes the faker source; zero keeps gofakeit's random seed.
	Seed int64
	// BcryptCost overrides the hashing cost; zero uses the service default.
	BcryptCost int
}

// Factory builds users and posts and persists them through a record store.
type Factory struct {
	store  repository.Store
	hasher *auth.PasswordHasher
	faker  *gofakeit.Faker
}

// NewFactory creates a Factory bound to store.
func NewFactory(store repository.Store, opts Options) *Factory {
	faker := gofakeit.New(opts.Seed)
	return &Factory{
		store:  store,
		hasher: auth.NewPasswordHasher(opts.BcryptCost),
		faker:  faker,
	}
}

// CreateUser persists a user with a generated identity and DefaultPassword.
// A taken identity is retried with a numeric suffix.
func (f *Factory) CreateUser(ctx context.Context) (*models.User, error) {
	hash, err := f.hasher.Hash(DefaultPassword)
	if err != nil {
		return nil, err
	}

	base := strings.ToLower(f.faker.Username())
	for attempt := 0; attempt < maxIdentityAttempts; attempt++ {
		username := fmt.Sprintf("%s%d", base, f.faker.Number(100, 999)+attempt*1000)
		email := username + "@" + f.faker.DomainName()

		user, err := f.store.CreateUser(ctx, email, username, hash)
		if errors.Is(err, repository.ErrDuplicateIdentity) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return user, nil
	}
	return nil, fmt.Errorf("no free identity for %q after %d attempts", base, maxIdentityAttempts)
}

// CreatePost persists a post with generated content authored by user.
func (f *Factory) CreatePost(ctx context.Context, user *models.User) (*models.Post, error) {
	content := f.faker.Sentence(f.faker.Number(6, 18))
	return f.store.CreatePost(ctx, content, user.ID)
}

// Result summarizes a seeding run.
type Result struct {
	Users []*models.User
	Posts []*models.Post
}

// Run creates opts.Users users, then opts.Posts posts spread over them at random.
func Run(ctx context.Context, store repository.Store, opts Options) (*Result, error) {
	if opts.Posts > 0 && opts.Users <= 0 {
		return nil, errors.New("posts need at least one user")
	}

	f := NewFactory(store, opts)
	result := &Result{}

	for i := 0; i < opts.Users; i++ {
		user, err := f.CreateUser(ctx)
		if err != nil {
			return result, fmt.Errorf("seeding user %d: %w", i+1, err)
		}
		result.Users = append(result.Users, user)
	}

	for i := 0; i < opts.Posts; i++ {
		author := result.Users[f.faker.Number(0, len(result.Users)-1)]
		post, err := f.CreatePost(ctx, author)
		if err != nil {
			return result, fmt.Errorf("seeding post %d: %w", i+1, err)
		}
		result.Posts = append(result.Posts, post)
	}

	middleware.Logger.InfoContext(ctx, "Seeding complete",
		slog.Int("users", len(result.Users)),
		slog.Int("posts", len(result.Posts)),
	)
	return result, nil
}
