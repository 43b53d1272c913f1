package models

import (
	"time"

	"github.com/lib/pq"
)

// Child is a student profile registered under a parent account. The
// (name, owner) pair is unique among live rows.
type Child struct {
	ID     string         `db:"id" json:"id"`
	Name   string         `db:"name" json:"name"`
	Age    int            `db:"age" json:"age"`
	Grade  string         `db:"grade" json:"grade"`
	Topics pq.StringArray `db:"topics" json:"topics"`
	// TopicLimit caps the topics slice; nil falls back to the owner's limit.
	TopicLimit *int `db:"topic_limit" json:"topic_limit,omitempty"`
	// ParentID is the legacy denormalized parent reference kept for
	// compatibility with older clients; OwnerID is authoritative.
	ParentID  *string   `db:"parent_id" json:"parent_id,omitempty"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChildCreateRequest holds fields for registering a child.
type ChildCreateRequest struct {
	Name   string   `json:"name" validate:"required"`
	Age    int      `json:"age" validate:"required,gt=0"`
	Grade  string   `json:"grade" validate:"required"`
	Topics []string `json:"topics"`
}

// ChildUpdateRequest holds mutable child fields; nil means unchanged.
type ChildUpdateRequest struct {
	Name   *string  `json:"name,omitempty"`
	Age    *int     `json:"age,omitempty" validate:"omitempty,gt=0"`
	Grade  *string  `json:"grade,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// ChildFilter captures supported filters for listing children.
type ChildFilter struct {
	OwnerID   string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
