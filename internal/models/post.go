package models

import "time"

// Post represents a short text post.
type Post struct {
	ID            uint      `gorm:"primaryKey" json:"id" yaml:"id"`
	Content       string    `gorm:"type:text;not null" json:"content" yaml:"content"`
	AuthorID      uint      `gorm:"not null;index" json:"authorId" yaml:"authorId"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt" yaml:"createdAt"`
	CommentsCount int       `gorm:"not null;default:0" json:"commentsCount" yaml:"commentsCount"`
	// Edited stays false (and is omitted) until the first update.
	Edited bool `gorm:"not null;default:false" json:"edited,omitempty" yaml:"edited,omitempty"`
}

// PostUpdate carries the fields merged into an existing post. Nil fields are left untouched.
type PostUpdate struct {
	Content *string
}

// PostWithAuthor is a post joined with its author's public fields.
// Author is nil when the author record no longer exists.
type PostWithAuthor struct {
	Post
	Author *PublicUser `json:"author"`
}

// WithAuthor joins p with author.
func (p *Post) WithAuthor(author *User) *PostWithAuthor {
	return &PostWithAuthor{Post: *p, Author: author.Public()}
}
