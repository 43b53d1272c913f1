package models

import "time"

// Subject is an owned catalog entry naming an exam subject.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Syllabus is an owned catalog entry naming a syllabus/board.
type Syllabus struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CatalogRequest holds fields for creating or renaming a catalog entry.
type CatalogRequest struct {
	Name string `json:"name" validate:"required"`
}

// CatalogFilter captures supported filters for listing catalog entries.
type CatalogFilter struct {
	AuthorID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
