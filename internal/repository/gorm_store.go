package repository

import (
	"context"
	"errors"
	"time"

	"postboard/internal/models"
	"postboard/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// GormStore implements Store on a SQL database. Each mutation runs in its own
// transaction, so the database provides the serialization FileStore gets from its mutex.
type GormStore struct {
	db      *gorm.DB
	backend string
	opts    options
	metrics *observability.StoreMetrics
}

// NewGormStore wraps db. Call Migrate before first use on a fresh database.
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	backend := db.Name()
	return &GormStore{
		db:      db,
		backend: backend,
		opts:    buildOptions(opts),
		metrics: observability.NewStoreMetrics(backend),
	}
}

// Migrate creates or updates the users and posts tables.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.User{}, &models.Post{}); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *GormStore) track(ctx context.Context, op string) (context.Context, func(error)) {
	span, ctx := observability.StartSpan(ctx, "GormStore."+op,
		attribute.String("store.backend", s.backend),
	)
	record := s.metrics.Track(op)
	return ctx, func(err error) {
		record(err)
		span.End(err)
	}
}

func (s *GormStore) now() time.Time {
	return s.opts.now().UTC()
}

// CreateUser inserts a user unless the email or username is taken.
func (s *GormStore) CreateUser(ctx context.Context, email, username, passwordHash string) (user *models.User, err error) {
	ctx, done := s.track(ctx, "create_user")
	defer func() { done(err) }()

	u := &models.User{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).
			Where("email = ? OR username = ?", email, username).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateIdentity
		}
		return tx.Create(u).Error
	})
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, ErrDuplicateIdentity), errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, ErrDuplicateIdentity
	default:
		return nil, unavailable("create user", err)
	}
}

// FindUserByIdentifier returns the lowest-id user whose email or username equals identifier.
func (s *GormStore) FindUserByIdentifier(ctx context.Context, identifier string) (user *models.User, err error) {
	ctx, done := s.track(ctx, "find_user")
	defer func() { done(err) }()

	var u models.User
	err = s.db.WithContext(ctx).
		Where("email = ? OR username = ?", identifier, identifier).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find user", err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id uint) (user *models.User, err error) {
	ctx, done := s.track(ctx, "get_user")
	defer func() { done(err) }()

	var u models.User
	err = s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return &u, nil
}

func (s *GormStore) GetUsersByIDs(ctx context.Context, ids []uint) (users map[uint]*models.User, err error) {
	ctx, done := s.track(ctx, "get_users")
	defer func() { done(err) }()

	users = make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	var rows []*models.User
	if err = s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, unavailable("get users", err)
	}
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}

func (s *GormStore) CreatePost(ctx context.Context, content string, authorID uint) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "create_post")
	defer func() { done(err) }()

	p := &models.Post{
		Content:   content,
		AuthorID:  authorID,
		CreatedAt: s.now(),
	}
	if err = s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, unavailable("create post", err)
	}
	return p, nil
}

// ListPosts returns every post, newest first, ties by id descending.
func (s *GormStore) ListPosts(ctx context.Context) (posts []*models.Post, err error) {
	ctx, done := s.track(ctx, "list_posts")
	defer func() { done(err) }()

	posts = []*models.Post{}
	if err = s.db.WithContext(ctx).Order("created_at desc, id desc").Find(&posts).Error; err != nil {
		return nil, unavailable("list posts", err)
	}
	return posts, nil
}

func (s *GormStore) GetPostByID(ctx context.Context, id uint) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "get_post")
	defer func() { done(err) }()

	var p models.Post
	err = s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get post", err)
	}
	return &p, nil
}

// UpdatePost merges update into the post and marks it edited. Returns nil when absent.
func (s *GormStore) UpdatePost(ctx context.Context, id uint, update models.PostUpdate) (post *models.Post, err error) {
	ctx, done := s.track(ctx, "update_post")
	defer func() { done(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Post
		if err := tx.First(&p, id).Error; err != nil {
			return err
		}
		if update.Content != nil {
			p.Content = *update.Content
		}
		p.Edited = true
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		post = &p
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("update post", err)
	}
	return post, nil
}

func (s *GormStore) DeletePost(ctx context.Context, id uint) (deleted bool, err error) {
	ctx, done := s.track(ctx, "delete_post")
	defer func() { done(err) }()

	result := s.db.WithContext(ctx).Delete(&models.Post{}, id)
	if result.Error != nil {
		return false, unavailable("delete post", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
