package service

import (
	"context"
	"log/slog"
	"time"

	"postboard/internal/cache"
	"postboard/internal/middleware"
	"postboard/internal/models"
	"postboard/internal/repository"
)

// DefaultFeedTTL bounds how stale a cached feed may be.
const DefaultFeedTTL = 30 * time.Second

type PostService struct {
	postRepo repository.PostRepository
	userRepo repository.UserRepository
	cache    *cache.Cache
	feedTTL  time.Duration
}

type CreatePostInput struct {
	UserID  uint
	Content string
}

type UpdatePostInput struct {
	UserID  uint
	PostID  uint
	Content string
}

type DeletePostInput struct {
	UserID uint
	PostID uint
}

// NewPostService wires the post workflows. feedCache may be nil.
func NewPostService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	feedCache *cache.Cache,
	feedTTL time.Duration,
) *PostService {
	if feedTTL <= 0 {
		feedTTL = DefaultFeedTTL
	}
	return &PostService{
		postRepo: postRepo,
		userRepo: userRepo,
		cache:    feedCache,
		feedTTL:  feedTTL,
	}
}

// ListPosts returns every post newest first, each joined with its author.
func (s *PostService) ListPosts(ctx context.Context) ([]*models.PostWithAuthor, error) {
	feed := []*models.PostWithAuthor{}
	err := s.cache.Aside(ctx, cache.FeedKey, &feed, s.feedTTL, func() error {
		posts, err := s.postRepo.ListPosts(ctx)
		if err != nil {
			return err
		}
		feed, err = s.joinAuthors(ctx, posts)
		return err
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return feed, nil
}

func (s *PostService) joinAuthors(ctx context.Context, posts []*models.Post) ([]*models.PostWithAuthor, error) {
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.AuthorID)
	}
	authors, err := s.userRepo.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	joined := make([]*models.PostWithAuthor, 0, len(posts))
	for _, p := range posts {
		joined = append(joined, p.WithAuthor(authors[p.AuthorID]))
	}
	return joined, nil
}

func (s *PostService) withAuthor(ctx context.Context, post *models.Post) (*models.PostWithAuthor, error) {
	author, err := s.userRepo.GetUserByID(ctx, post.AuthorID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return post.WithAuthor(author), nil
}

// GetPost returns the post joined with its author.
func (s *PostService) GetPost(ctx context.Context, id uint) (*models.PostWithAuthor, error) {
	post, err := s.postRepo.GetPostByID(ctx, id)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if post == nil {
		return nil, models.NewNotFoundError("Post", id)
	}
	return s.withAuthor(ctx, post)
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.PostWithAuthor, error) {
	if in.Content == "" {
		return nil, models.NewValidationError("Missing content")
	}

	post, err := s.postRepo.CreatePost(ctx, in.Content, in.UserID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	s.cache.Invalidate(ctx, cache.FeedKey)

	middleware.Logger.InfoContext(ctx, "post created", slog.Uint64("post_id", uint64(post.ID)))
	return s.withAuthor(ctx, post)
}

// ownedPost loads postID and checks that userID authored it.
func (s *PostService) ownedPost(ctx context.Context, userID, postID uint) (*models.Post, error) {
	post, err := s.postRepo.GetPostByID(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if post == nil {
		return nil, models.NewNotFoundError("Post", postID)
	}
	if post.AuthorID != userID {
		return nil, models.NewForbiddenError("Forbidden")
	}
	return post, nil
}

// UpdatePost replaces the content of a post owned by in.UserID.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.PostWithAuthor, error) {
	if _, err := s.ownedPost(ctx, in.UserID, in.PostID); err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, models.NewValidationError("Missing content")
	}

	updated, err := s.postRepo.UpdatePost(ctx, in.PostID, models.PostUpdate{Content: &in.Content})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if updated == nil {
		// Deleted between the ownership check and the update.
		return nil, models.NewNotFoundError("Post", in.PostID)
	}
	s.cache.Invalidate(ctx, cache.FeedKey)

	middleware.Logger.InfoContext(ctx, "post updated", slog.Uint64("post_id", uint64(updated.ID)))
	return s.withAuthor(ctx, updated)
}

// DeletePost removes a post owned by in.UserID.
func (s *PostService) DeletePost(ctx context.Context, in DeletePostInput) error {
	if _, err := s.ownedPost(ctx, in.UserID, in.PostID); err != nil {
		return err
	}

	ok, err := s.postRepo.DeletePost(ctx, in.PostID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if !ok {
		return &models.AppError{Code: models.CodeInternal, Message: "Failed to delete"}
	}
	s.cache.Invalidate(ctx, cache.FeedKey)

	middleware.Logger.InfoContext(ctx, "post deleted", slog.Uint64("post_id", uint64(in.PostID)))
	return nil
}
