package genai

import (
	"fmt"
	"strings"
)

// ErrInvalidSpec reports missing or malformed fields in a generation spec.
type ErrInvalidSpec struct {
	Missing []string
}

func (e *ErrInvalidSpec) Error() string {
	return fmt.Sprintf("the following fields are required: %s", strings.Join(e.Missing, ", "))
}

// ErrGenerationFailed reports a chunk that exhausted its retry budget. Err
// carries the last underlying cause.
type ErrGenerationFailed struct {
	Chunk int
	Err   error
}

func (e *ErrGenerationFailed) Error() string {
	if e.Chunk > 0 {
		return fmt.Sprintf("question generation failed in chunk %d: %v", e.Chunk, e.Err)
	}
	return fmt.Sprintf("content generation failed: %v", e.Err)
}

func (e *ErrGenerationFailed) Unwrap() error { return e.Err }

// ErrIncomplete reports a merged question total that differs from the
// requested count.
type ErrIncomplete struct {
	Want int
	Got  int
}

func (e *ErrIncomplete) Error() string {
	return fmt.Sprintf("expected %d questions but got %d", e.Want, e.Got)
}

// ErrQuestionNotFound reports an explanation request for a question number
// absent from the paper.
type ErrQuestionNotFound struct {
	QuestionNumber int
}

func (e *ErrQuestionNotFound) Error() string {
	return fmt.Sprintf("question number %d not found in this paper", e.QuestionNumber)
}
