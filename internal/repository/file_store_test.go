package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"postboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

func newTestFileStore(t *testing.T, name string, opts ...Option) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", name)
	s, err := NewFileStore(path, opts...)
	require.NoError(t, err)
	return s, path
}

func readContainer(t *testing.T, path string) container {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var c container
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func strPtr(s string) *string { return &s }

func TestFileStore_InitializesMissingContainer(t *testing.T) {
	_, path := newTestFileStore(t, "db.json")

	c := readContainer(t, path)
	assert.Empty(t, c.Users)
	assert.Empty(t, c.Posts)
	assert.Equal(t, uint(1), c.NextUserID)
	assert.Equal(t, uint(1), c.NextPostID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"nextUserId": 1`)
}

func TestFileStore_CreateUserAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, path := newTestFileStore(t, "db.json", WithClock(fixedClock(start, time.Second)))

	alice, err := s.CreateUser(ctx, "alice@example.com", "alice", "digest-a")
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob@example.com", "bob", "digest-b")
	require.NoError(t, err)

	assert.Equal(t, uint(1), alice.ID)
	assert.Equal(t, uint(2), bob.ID)
	assert.Equal(t, start, alice.CreatedAt)
	assert.Equal(t, "digest-a", alice.PasswordHash)

	c := readContainer(t, path)
	assert.Len(t, c.Users, 2)
	assert.Equal(t, uint(3), c.NextUserID)
	assert.Equal(t, "digest-b", c.Users[1].Password)
}

func TestFileStore_CreateUserRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, "db.json")

	_, err := s.CreateUser(ctx, "alice@example.com", "alice", "digest")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		username string
	}{
		{"Same email", "alice@example.com", "other"},
		{"Same username", "other@example.com", "alice"},
		{"Both", "alice@example.com", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.email, tt.username, "digest")
			assert.ErrorIs(t, err, ErrDuplicateIdentity)
		})
	}

	// Identity comparison is case-sensitive.
	_, err = s.CreateUser(ctx, "Alice@example.com", "Alice", "digest")
	assert.NoError(t, err)

	c := readContainer(t, path)
	assert.Len(t, c.Users, 2)
	assert.Equal(t, uint(3), c.NextUserID)
}

func TestFileStore_FindUserByIdentifier(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t, "db.json")

	created, err := s.CreateUser(ctx, "alice@example.com", "alice", "digest")
	require.NoError(t, err)

	byEmail, err := s.FindUserByIdentifier(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := s.FindUserByIdentifier(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, created.ID, byName.ID)

	missing, err := s.FindUserByIdentifier(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got, err := s.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	absent, err := s.GetUserByID(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestFileStore_GetUsersByIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t, "db.json")

	for i := 1; i <= 3; i++ {
		_, err := s.CreateUser(ctx, fmt.Sprintf("u%d@example.com", i), fmt.Sprintf("u%d", i), "digest")
		require.NoError(t, err)
	}

	users, err := s.GetUsersByIDs(ctx, []uint{1, 3, 3, 42})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "u1", users[1].Username)
	assert.Equal(t, "u3", users[3].Username)
}

func TestFileStore_PostLifecycle(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, "db.json")

	post, err := s.CreatePost(ctx, "hello", 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), post.ID)
	assert.Equal(t, 0, post.CommentsCount)
	assert.False(t, post.Edited)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"edited"`)

	updated, err := s.UpdatePost(ctx, post.ID, models.PostUpdate{Content: strPtr("hello again")})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "hello again", updated.Content)
	assert.True(t, updated.Edited)
	assert.Equal(t, post.CreatedAt, updated.CreatedAt)

	got, err := s.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello again", got.Content)
	assert.True(t, got.Edited)

	missing, err := s.UpdatePost(ctx, 99, models.PostUpdate{Content: strPtr("x")})
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := s.DeletePost(ctx, post.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeletePost(ctx, post.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	gone, err := s.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Ids are never reused after deletion.
	next, err := s.CreatePost(ctx, "again", 1)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next.ID)
}

func TestFileStore_ListPostsNewestFirst(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestFileStore(t, "db.json", WithClock(fixedClock(start, time.Minute)))

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.CreatePost(ctx, content, 1)
		require.NoError(t, err)
	}

	posts, err := s.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "third", posts[0].Content)
	assert.Equal(t, "second", posts[1].Content)
	assert.Equal(t, "first", posts[2].Content)
}

func TestFileStore_ListPostsTiesByIDDescending(t *testing.T) {
	ctx := context.Background()
	same := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestFileStore(t, "db.json", WithClock(func() time.Time { return same }))

	for i := 0; i < 3; i++ {
		_, err := s.CreatePost(ctx, fmt.Sprintf("p%d", i), 1)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		posts, err := s.ListPosts(ctx)
		require.NoError(t, err)
		require.Len(t, posts, 3)
		assert.Equal(t, []uint{3, 2, 1}, []uint{posts[0].ID, posts[1].ID, posts[2].ID})
	}
}

func TestFileStore_ConcurrentCreatesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, "db.json")

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.CreateUser(ctx, fmt.Sprintf("u%d@example.com", i), fmt.Sprintf("u%d", i), "d"); err != nil {
				errs <- err
			}
			if _, err := s.CreatePost(ctx, fmt.Sprintf("post %d", i), uint(i+1)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c := readContainer(t, path)
	assert.Len(t, c.Users, workers)
	assert.Len(t, c.Posts, workers)
	assert.Equal(t, uint(workers+1), c.NextUserID)
	assert.Equal(t, uint(workers+1), c.NextPostID)

	seen := map[uint]bool{}
	for _, p := range c.Posts {
		assert.False(t, seen[p.ID], "duplicate post id %d", p.ID)
		seen[p.ID] = true
	}
}

func TestFileStore_ConcurrentDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t, "db.json")

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, duplicates := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateUser(ctx, "same@example.com", "same", "d")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrDuplicateIdentity) {
				duplicates++
			} else if err == nil {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
}

func TestFileStore_MalformedContainer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		{"Truncated JSON", `{"users": [`},
		{"Empty file", ""},
		{"Wrong shape", `["not", "a", "container"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name+" reinitializes", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			s, err := NewFileStore(path)
			require.NoError(t, err)

			posts, err := s.ListPosts(ctx)
			require.NoError(t, err)
			assert.Empty(t, posts)

			c := readContainer(t, path)
			assert.Equal(t, uint(1), c.NextUserID)
		})

		t.Run(tt.name+" fails", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "db.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := NewFileStore(path, WithRecoveryPolicy(RecoverFail))
			assert.ErrorIs(t, err, ErrStoreCorrupt)
			assert.ErrorIs(t, err, ErrStoreUnavailable)

			raw, readErr := os.ReadFile(path)
			require.NoError(t, readErr)
			assert.Equal(t, tt.content, string(raw))
		})
	}
}

func TestFileStore_CorruptionAfterOpen(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, "db.json", WithRecoveryPolicy(RecoverFail))

	_, err := s.CreatePost(ctx, "kept", 1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o644))

	_, err = s.CreatePost(ctx, "lost", 1)
	assert.ErrorIs(t, err, ErrStoreCorrupt)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
}

func TestFileStore_NormalizesCounters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.json")
	legacy := `{"users":[{"id":5,"email":"a@b.c","username":"a","password":"x","createdAt":"2024-01-01T00:00:00Z"}],
"posts":[{"id":9,"content":"old","authorId":5,"createdAt":"2024-01-01T00:00:00Z","commentsCount":0}],
"nextUserId":1,"nextPostId":1}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	u, err := s.CreateUser(ctx, "new@b.c", "new", "x")
	require.NoError(t, err)
	assert.Equal(t, uint(6), u.ID)

	p, err := s.CreatePost(ctx, "new", u.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(10), p.ID)
}

func TestFileStore_YAMLContainer(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, "db.yaml")

	_, err := s.CreateUser(ctx, "alice@example.com", "alice", "digest")
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, "hello", 1)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var c container
	require.NoError(t, yaml.Unmarshal(raw, &c))
	assert.Len(t, c.Users, 1)
	assert.Len(t, c.Posts, 1)
	assert.Equal(t, uint(2), c.NextPostID)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	u, err := reopened.FindUserByIdentifier(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "digest", u.PasswordHash)
}

func TestFileStore_UnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err = s.CreatePost(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestParseRecoveryPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RecoveryPolicy
		wantErr bool
	}{
		{"", RecoverReinitialize, false},
		{"reinitialize", RecoverReinitialize, false},
		{"fail", RecoverFail, false},
		{"panic", RecoverReinitialize, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRecoveryPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
