package genai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exowa/exowa-api/internal/llm"
	"github.com/exowa/exowa-api/internal/models"
)

func testPaper() *models.Paper {
	return &models.Paper{
		ID:        "paper-1",
		Subject:   "Mathematics",
		Syllabus:  "CBSE",
		ClassName: "5",
		Language:  "English",
		Questions: models.QuestionList{
			{QuestionNumber: 1, Question: "What is 2+2?", Choices: map[string]string{"A": "4", "B": "5", "C": "6", "D": "7"}, CorrectAnswer: "A"},
			{QuestionNumber: 2, Question: "What is 3*3?", Choices: map[string]string{"A": "6", "B": "9", "C": "12", "D": "27"}, CorrectAnswer: "B"},
		},
	}
}

const explanationJSON = `{
    "explanation": "Adding two and two gives four.",
    "references": {
        "videos": ["https://example.com/v1"],
        "articles": [],
        "books": ["Primary Arithmetic"]
    }
}`

func explConfig() ExplanationConfig {
	return ExplanationConfig{MaxAttempts: 1, CallTimeout: time.Second}
}

func TestExplanationGenerate(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{Content: explanationJSON})
	gen := NewExplanationGenerator(provider, explConfig(), nil)

	exp, err := gen.Generate(context.Background(), testPaper(), 1)
	require.NoError(t, err)
	assert.Equal(t, "paper-1", exp.PaperID)
	assert.Equal(t, 1, exp.QuestionNumber)
	assert.Equal(t, "Adding two and two gives four.", exp.Explanation)
	assert.Equal(t, []string{"https://example.com/v1"}, exp.References.Videos)
	assert.Equal(t, []string{}, exp.References.Articles)
	assert.False(t, exp.GeneratedAt.IsZero())

	// The prompt carries the question under discussion.
	require.Len(t, provider.Calls, 1)
	assert.Contains(t, provider.Calls[0].Prompt, "What is 2+2?")
}

func TestExplanationGenerateWholePaper(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{Content: explanationJSON})
	gen := NewExplanationGenerator(provider, explConfig(), nil)

	exp, err := gen.Generate(context.Background(), testPaper(), models.WholePaperNumber)
	require.NoError(t, err)
	assert.Equal(t, models.WholePaperNumber, exp.QuestionNumber)

	// Whole-paper prompts include every question.
	require.Len(t, provider.Calls, 1)
	assert.Contains(t, provider.Calls[0].Prompt, "What is 2+2?")
	assert.Contains(t, provider.Calls[0].Prompt, "What is 3*3?")
}

func TestExplanationGenerateUnknownQuestion(t *testing.T) {
	gen := NewExplanationGenerator(llm.NewMockProvider(), explConfig(), nil)

	_, err := gen.Generate(context.Background(), testPaper(), 9)
	var notFound *ErrQuestionNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 9, notFound.QuestionNumber)
}

func TestExplanationGenerateEmptyExplanation(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{Content: `{"explanation": "  ", "references": {}}`})
	gen := NewExplanationGenerator(provider, explConfig(), nil)

	_, err := gen.Generate(context.Background(), testPaper(), 1)
	var failed *ErrGenerationFailed
	require.ErrorAs(t, err, &failed)
}

func TestExplanationGenerateRetriesMalformedResponse(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: "no structured payload here"},
		llm.MockResponse{Content: explanationJSON},
	)
	cfg := explConfig()
	cfg.MaxAttempts = 2
	gen := NewExplanationGenerator(provider, cfg, nil)

	exp, err := gen.Generate(context.Background(), testPaper(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Adding two and two gives four.", exp.Explanation)
	assert.Len(t, provider.Calls, 2)
}

func TestExplanationGenerateMissingReferencesDefaultEmpty(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{Content: `{"explanation": "Fine."}`})
	gen := NewExplanationGenerator(provider, explConfig(), nil)

	exp, err := gen.Generate(context.Background(), testPaper(), 1)
	require.NoError(t, err)
	assert.NotNil(t, exp.References.Videos)
	assert.NotNil(t, exp.References.Articles)
	assert.NotNil(t, exp.References.Books)
}
