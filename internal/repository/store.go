// Package repository provides the record store for users and posts.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postboard/internal/models"
)

var (
	// ErrStoreUnavailable is returned when the backing medium cannot be read or written.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrStoreCorrupt is returned under RecoverFail when the container cannot be decoded.
	ErrStoreCorrupt = fmt.Errorf("%w: container is malformed", ErrStoreUnavailable)

	// ErrDuplicateIdentity is returned when a user with the same email or username exists.
	ErrDuplicateIdentity = errors.New("email or username already exists")
)

// UserRepository defines the user operations of the record store.
type UserRepository interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error)
	// FindUserByIdentifier returns the first user whose email or username equals identifier.
	FindUserByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error)
}

// PostRepository defines the post operations of the record store.
type PostRepository interface {
	CreatePost(ctx context.Context, content string, authorID uint) (*models.Post, error)
	// ListPosts returns every post, newest first. Ties are ordered by id descending.
	ListPosts(ctx context.Context) ([]*models.Post, error)
	GetPostByID(ctx context.Context, id uint) (*models.Post, error)
	// UpdatePost merges update into the post and marks it edited. Returns nil when absent.
	UpdatePost(ctx context.Context, id uint, update models.PostUpdate) (*models.Post, error)
	DeletePost(ctx context.Context, id uint) (bool, error)
}

// Store is the full record store. Every mutation appears atomic to callers.
type Store interface {
	UserRepository
	PostRepository
	Ping(ctx context.Context) error
	Close() error
}

// RecoveryPolicy decides what happens when the durable container cannot be decoded.
type RecoveryPolicy int

const (
	// RecoverReinitialize replaces a malformed container with an empty one. Existing data is lost.
	RecoverReinitialize RecoveryPolicy = iota
	// RecoverFail surfaces a malformed container as ErrStoreCorrupt.
	RecoverFail
)

// ParseRecoveryPolicy maps a configuration value to a RecoveryPolicy.
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch s {
	case "", "reinitialize":
		return RecoverReinitialize, nil
	case "fail":
		return RecoverFail, nil
	default:
		return RecoverReinitialize, fmt.Errorf("unknown store recovery policy %q", s)
	}
}

type options struct {
	now      func() time.Time
	recovery RecoveryPolicy
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the clock used to stamp createdAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRecoveryPolicy sets the policy applied to a malformed container.
func WithRecoveryPolicy(p RecoveryPolicy) Option {
	return func(o *options) { o.recovery = p }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, recovery: RecoverReinitialize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
