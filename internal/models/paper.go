package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Question is a single generated multiple-choice question embedded in a
// paper. Immutable once generated and stored.
type Question struct {
	QuestionNumber int               `json:"questionNumber"`
	Question       string            `json:"question"`
	Choices        map[string]string `json:"choices"`
	CorrectAnswer  string            `json:"correctAnswer"`
}

// Answer is a child's response to one question, supplied wholesale on
// submission.
type Answer struct {
	QuestionNumber int    `json:"questionNumber"`
	Option         string `json:"option"`
}

// QuestionList stores the embedded question sequence as a JSONB column.
type QuestionList []Question

// Value implements driver.Valuer.
func (q QuestionList) Value() (driver.Value, error) {
	if q == nil {
		return "[]", nil
	}
	return json.Marshal(q)
}

// Scan implements sql.Scanner.
func (q *QuestionList) Scan(src interface{}) error {
	return scanJSON(src, q)
}

// AnswerList stores the embedded answer sequence as a JSONB column.
type AnswerList []Answer

// Value implements driver.Valuer.
func (a AnswerList) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AnswerList) Scan(src interface{}) error {
	return scanJSON(src, a)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// Paper is a generated exam instance bound to a curriculum spec. Questions
// and answers are embedded; the row is soft-deleted only.
type Paper struct {
	ID           string         `db:"id" json:"id"`
	Subject      string         `db:"subject" json:"subject"`
	Syllabus     string         `db:"syllabus" json:"syllabus"`
	ChapterFrom  string         `db:"chapter_from" json:"chapter_from"`
	ChapterTo    string         `db:"chapter_to" json:"chapter_to"`
	Language     string         `db:"language" json:"language"`
	ClassName    string         `db:"class_name" json:"class_name"`
	NoOfQuestion int            `db:"no_of_question" json:"no_of_question"`
	AuthorID     string         `db:"author_id" json:"author_id"`
	File         *string        `db:"file" json:"file,omitempty"`
	URL          *string        `db:"url" json:"url,omitempty"`
	Questions    QuestionList   `db:"questions" json:"questions"`
	Answers      AnswerList     `db:"answers" json:"answers"`
	ChildID      *string        `db:"child_id" json:"child_id,omitempty"`
	Topics       pq.StringArray `db:"topics" json:"topics"`
	// OTP is the single-use access code gating child access; nil means no
	// unconsumed code exists.
	OTP                    *int      `db:"otp" json:"otp,omitempty"`
	IsExplanationGenerated bool      `db:"is_explanation_generated" json:"is_explanation_generated"`
	IsDeleted              bool      `db:"is_deleted" json:"-"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// PaperDetail is a paper with author and assigned child populated.
type PaperDetail struct {
	Paper
	AuthorName *string `db:"author_name" json:"author_name,omitempty"`
	AuthorMail *string `db:"author_email" json:"author_email,omitempty"`
	ChildName  *string `db:"child_name" json:"child_name,omitempty"`
	ChildGrade *string `db:"child_grade" json:"child_grade,omitempty"`
}

// PaperCreateRequest holds the curriculum spec for generating a paper.
type PaperCreateRequest struct {
	Subject      string   `json:"subject" validate:"required"`
	Syllabus     string   `json:"syllabus" validate:"required"`
	ChapterFrom  string   `json:"chapterFrom" validate:"required"`
	ChapterTo    string   `json:"chapterTo" validate:"required"`
	Language     string   `json:"language" validate:"required"`
	ClassName    string   `json:"className" validate:"required"`
	NoOfQuestion int      `json:"noOfQuestion" validate:"required,gt=0,lte=100"`
	Topics       []string `json:"topics"`
}

// PaperUpdateRequest updates curriculum metadata on an existing paper.
// Nil fields are left unchanged; questions are immutable.
type PaperUpdateRequest struct {
	Subject     *string  `json:"subject"`
	Syllabus    *string  `json:"syllabus"`
	ChapterFrom *string  `json:"chapterFrom"`
	ChapterTo   *string  `json:"chapterTo"`
	Language    *string  `json:"language"`
	ClassName   *string  `json:"className"`
	Topics      []string `json:"topics"`
}

// PaperAssignRequest binds a paper to a child.
type PaperAssignRequest struct {
	PaperID string `json:"questionId" validate:"required"`
	ChildID string `json:"childId" validate:"required"`
}

// AnswerSubmissionRequest carries a wholesale answer set for one paper.
type AnswerSubmissionRequest struct {
	PaperID string   `json:"questionId" validate:"required"`
	Answers []Answer `json:"answers" validate:"required,min=1,dive"`
}

// AssignmentResult reports the outcome of binding a paper to a child.
type AssignmentResult struct {
	PaperID string `json:"questionId"`
	ChildID string `json:"childId"`
	OTP     int    `json:"otp"`
}

// PaperFilter captures supported filters for listing papers.
type PaperFilter struct {
	AuthorID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
