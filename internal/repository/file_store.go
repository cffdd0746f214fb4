package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"postboard/internal/middleware"
	"postboard/internal/models"
	"postboard/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// container is the single durable document holding both collections and their counters.
type container struct {
	Users      []userRecord   `json:"users" yaml:"users"`
	Posts      []*models.Post `json:"posts" yaml:"posts"`
	NextUserID uint           `json:"nextUserId" yaml:"nextUserId"`
	NextPostID uint           `json:"nextPostId" yaml:"nextPostId"`
}

// userRecord is the persisted user. Unlike models.User it carries the digest.
type userRecord struct {
	ID        uint      `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	Username  string    `json:"username" yaml:"username"`
	Password  string    `json:"password" yaml:"password"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

func (r userRecord) toModel() *models.User {
	return &models.User{
		ID:           r.ID,
		Email:        r.Email,
		Username:     r.Username,
		PasswordHash: r.Password,
		CreatedAt:    r.CreatedAt,
	}
}

func emptyContainer() *container {
	return &container{
		Users:      []userRecord{},
		Posts:      []*models.Post{},
		NextUserID: 1,
		NextPostID: 1,
	}
}

// normalize restores the counter invariants on a decoded container.
func (c *container) normalize() {
	if c.Users == nil {
		c.Users = []userRecord{}
	}
	if c.Posts == nil {
		c.Posts = []*models.Post{}
	}
	for _, u := range c.Users {
		if u.ID >= c.NextUserID {
			c.NextUserID = u.ID + 1
		}
	}
	for _, p := range c.Posts {
		if p != nil && p.ID >= c.NextPostID {
			c.NextPostID = p.ID + 1
		}
	}
	if c.NextUserID == 0 {
		c.NextUserID = 1
	}
	if c.NextPostID == 0 {
		c.NextPostID = 1
	}
	posts := c.Posts[:0]
	for _, p := range c.Posts {
		if p != nil {
			posts = append(posts, p)
		}
	}
	c.Posts = posts
}

// FileStore keeps the record store in one document on disk. Every operation reads the whole
// container; every mutation rewrites it atomically. A single mutex serializes all access so
// concurrent read-modify-write sequences cannot interleave.
type FileStore struct {
	mu      sync.Mutex
	path    string
	codec   codec
	opts    options
	metrics *observability.StoreMetrics
}

// NewFileStore opens the container at path, creating it (and its directory) when missing.
// Under RecoverFail a malformed container is reported here rather than on first use.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create store dir", err)
	}

	s := &FileStore{
		path:    path,
		codec:   codecFor(path),
		opts:    buildOptions(opts),
		metrics: observability.NewStoreMetrics("file"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the container document.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) track(ctx context.Context, op string) (context.Context, func(error)) {
	span, ctx := observability.StartSpan(ctx, "FileStore."+op,
		attribute.String("store.backend", "file"),
		attribute.String("store.path", s.path),
	)
	record := s.metrics.Track(op)
	return ctx, func(err error) {
		record(err)
		span.End(err)
	}
}

// load reads the container. Callers must hold s.mu.
func (s *FileStore) load(ctx context.Context) (*container, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		c := emptyContainer()
		if err := s.save(c); err != nil {
			return nil, err
		}
		middleware.Logger.InfoContext(ctx, "initialized empty record store", slog.String("path", s.path))
		return c, nil
	}
	if err != nil {
		return nil, unavailable("read container", err)
	}

	var c container
	if decodeErr := s.codec.Unmarshal(data, &c); decodeErr != nil {
		if s.opts.recovery == RecoverFail {
			return nil, fmt.Errorf("%w: %s: %w", ErrStoreCorrupt, s.path, decodeErr)
		}
		middleware.Logger.WarnContext(ctx, "record store container is malformed; reinitializing to empty state",
			slog.String("path", s.path),
			slog.String("error", decodeErr.Error()),
		)
		observability.StoreRecoveries.Inc()
		fresh := emptyContainer()
		if err := s.save(fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	c.normalize()
	return &c, nil
}

// save writes the container to a temp file and renames it over the document.
// Callers must hold s.mu.
func (s *FileStore) save(c *container) error {
	data, err := s.codec.Marshal(c)
	if err != nil {
		return unavailable("encode container", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return unavailable("create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable("write container", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return unavailable("sync container", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("close container", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return unavailable("chmod container", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return unavailable("replace container", err)
	}
	return nil
}

// view runs fn against a freshly loaded container.
func (s *FileStore) view(ctx context.Context, fn func(c *container) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(c)
}

// mutate runs one read-modify-write cycle. fn reports whether it changed the container;
// unchanged containers are not rewritten.
func (s *FileStore) mutate(ctx context.Context, fn func(c *container) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(c)
	if err != nil || !changed {
		return err
	}
	return s.save(c)
}

func (s *FileStore) now() time.Time {
	return s.opts.now().UTC()
}

// CreateUser appends a user with the next id. Email and username must both be unused.
func (s *FileStore) CreateUser(ctx context.Context, email, username, passwordHash string) (user *models.User, err error) {
	ctx, done := s.track(ctx, "create_user")
	defer func() { done(err) }()

	err = s.mutate(ctx, func(c *container) (bool, error) {
		for _, u := range c.Users {
			if u.Email == email || u.Username == username {
				return false, ErrDuplicateIdentity
			}
		}
		rec := userRecord{
			ID:        c.NextUserID,
			Email:     email,
			Username:  username,
			Password:  passwordHash,
			CreatedAt: s.now(),
		}
		c.NextUserID++
		c.Users = append(c.Users, rec)
		user = rec.toModel()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByIdentifier matches identifier against email or username, first match wins.
func (s *FileStore) FindUserByIdentifier(ctx context.Context, identifier string) (user *models.User, err error) {
	ctx, done := s.track(ctx, "find_user")
	defer func() { done(err) }()

	err = s.view(ctx, func(c *container) error {
		for _, u := range c.Users {
			if u.Email == identifier || u.Username == identifier {
				user = u.toModel()
				return nil
			}
		}
		return nil
	})
	return user, err
}

// GetUserByID returns the user or nil when absent.
func (s *FileStore) GetUserByID(ctx context.Context, id uint) (user *models.User, err error) {
	ctx, done := s.track(ctx, "get_user")
	defer func() { done(err) }()

	err = s.view(ctx, func(c *container) error {
		for _, u := range c.Users {
			if u.ID == id {
				user = u.toModel()
				return nil
			}
		}
		return nil
	})
	return user, err
}

// GetUsersByIDs returns the users found among ids, keyed by id.
func (s *FileStore) GetUsersByIDs(ctx context.Context, ids []uint) (users map[uint]*models.User, err error) {
	ctx, done := s.track(ctx, "get_users")
	defer func() { done(err) }()

	want := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	users = make(map[uint]*models.User, len(want))
	err = s.view(ctx, func(c *container) error {
		for _, u := range c.Users {
			if _, ok := want[u.ID]; ok {
				users[u.ID] = u.toModel()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CreatePost appends a post with the next id.
func (s *FileStore) CreatePost(ctx context.Context, content string, authorID uint) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "create_post")
	defer func() { done(err) }()

	err = s.mutate(ctx, func(c *container) (bool, error) {
		p := &models.Post{
			ID:            c.NextPostID,
			Content:       content,
			AuthorID:      authorID,
			CreatedAt:     s.now(),
			CommentsCount: 0,
		}
		c.NextPostID++
		c.Posts = append(c.Posts, p)
		cp := *p
		post = &cp
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts returns all posts, newest createdAt first.
func (s *FileStore) ListPosts(ctx context.Context) (posts []*models.Post, err error) {
	ctx, done := s.track(ctx, "list_posts")
	defer func() { done(err) }()

	err = s.view(ctx, func(c *container) error {
		posts = make([]*models.Post, 0, len(c.Posts))
		for _, p := range c.Posts {
			cp := *p
			posts = append(posts, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(posts)
	return posts, nil
}

func sortNewestFirst(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

// GetPostByID returns the post or nil when absent.
func (s *FileStore) GetPostByID(ctx context.Context, id uint) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "get_post")
	defer func() { done(err) }()

	err = s.view(ctx, func(c *container) error {
		for _, p := range c.Posts {
			if p.ID == id {
				cp := *p
				post = &cp
				return nil
			}
		}
		return nil
	})
	return post, err
}

// UpdatePost merges update into the post and sets edited. Returns nil when absent.
func (s *FileStore) UpdatePost(ctx context.Context, id uint, update models.PostUpdate) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "update_post")
	defer func() { done(err) }()

	err = s.mutate(ctx, func(c *container) (bool, error) {
		for _, p := range c.Posts {
			if p.ID != id {
				continue
			}
			if update.Content != nil {
				p.Content = *update.Content
			}
			p.Edited = true
			cp := *p
			post = &cp
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// DeletePost removes the post and reports whether it existed.
func (s *FileStore) DeletePost(ctx context.Context, id uint) (deleted bool, err error) {
	ctx, done := s.track(ctx, "delete_post")
	defer func() { done(err) }()

	err = s.mutate(ctx, func(c *container) (bool, error) {
		for i, p := range c.Posts {
			if p.ID == id {
				c.Posts = append(c.Posts[:i], c.Posts[i+1:]...)
				deleted = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Ping verifies the container can be read.
func (s *FileStore) Ping(ctx context.Context) error {
	return s.view(ctx, func(*container) error { return nil })
}

// Close is a no-op; every operation already leaves the document consistent on disk.
func (s *FileStore) Close() error {
	return nil
}
