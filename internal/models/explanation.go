package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// WholePaperNumber is the question number under which a whole-paper
// explanation is stored.
const WholePaperNumber = 0

// ExplanationReferences groups suggested study material for an explanation.
type ExplanationReferences struct {
	Videos   []string `json:"videos"`
	Articles []string `json:"articles"`
	Books    []string `json:"books"`
}

// Value implements driver.Valuer.
func (r ExplanationReferences) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ExplanationReferences) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// Explanation is one AI-generated rationale for a (paper, question number)
// pair. (paper_id, question_number) is unique, enforced by the store.
type Explanation struct {
	ID             string                `db:"id" json:"-"`
	PaperID        string                `db:"paper_id" json:"questionId"`
	QuestionNumber int                   `db:"question_number" json:"questionNumber"`
	Explanation    string                `db:"explanation" json:"explanation"`
	References     ExplanationReferences `db:"references" json:"references"`
	GeneratedAt    time.Time             `db:"generated_at" json:"generatedAt"`
	IsDeleted      bool                  `db:"is_deleted" json:"-"`
}

// ExplanationDocument is the per-paper collection of explanations, assembled
// for API responses.
type ExplanationDocument struct {
	PaperID           string        `json:"questionId"`
	TotalExplanations int           `json:"totalExplanations"`
	Explanations      []Explanation `json:"explanations"`
}
