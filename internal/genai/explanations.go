package genai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/exowa/exowa-api/internal/llm"
	"github.com/exowa/exowa-api/internal/models"
)

// ExplanationConfig tunes explanation generation. Explanations get a longer
// call timeout than question chunks because the prompt carries full paper
// context.
type ExplanationConfig struct {
	MaxAttempts int
	CallTimeout time.Duration
	MaxTokens   int
	Temperature float64
}

func (c ExplanationConfig) withDefaults() ExplanationConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 45 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	return c
}

// ExplanationGenerator produces a rationale plus study references for one
// question of a paper, or for the paper as a whole.
type ExplanationGenerator struct {
	provider *llm.RetryProvider
	config   ExplanationConfig
	logger   *zap.Logger
}

// NewExplanationGenerator builds a generator around the shared provider.
func NewExplanationGenerator(provider llm.Provider, cfg ExplanationConfig, logger *zap.Logger) *ExplanationGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	retrying := llm.WithRetry(provider, llm.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		InitialWait: time.Second,
		MaxWait:     10 * time.Second,
		CallTimeout: cfg.CallTimeout,
	})
	return &ExplanationGenerator{provider: retrying, config: cfg, logger: logger}
}

type rawExplanation struct {
	Explanation string `json:"explanation"`
	References  struct {
		Videos   []string `json:"videos"`
		Articles []string `json:"articles"`
		Books    []string `json:"books"`
	} `json:"references"`
}

// Generate produces an explanation for the given question number of the
// paper. questionNumber 0 requests a whole-paper explanation. The question
// number must exist among the paper's questions.
func (g *ExplanationGenerator) Generate(ctx context.Context, paper *models.Paper, questionNumber int) (*models.Explanation, error) {
	var question *models.Question
	if questionNumber != models.WholePaperNumber {
		for i := range paper.Questions {
			if paper.Questions[i].QuestionNumber == questionNumber {
				question = &paper.Questions[i]
				break
			}
		}
		if question == nil {
			return nil, &ErrQuestionNotFound{QuestionNumber: questionNumber}
		}
	}

	prompt := explanationPrompt(paper, question)

	// A response without a usable explanation object burns a retry
	// attempt rather than failing outright.
	var parsed *rawExplanation
	_, err := g.provider.GenerateValidated(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	}, func(resp *llm.Response) error {
		p, perr := parseExplanation(resp.Content)
		if perr != nil {
			return perr
		}
		parsed = p
		return nil
	})
	if err != nil {
		return nil, &ErrGenerationFailed{Err: err}
	}

	return &models.Explanation{
		PaperID:        paper.ID,
		QuestionNumber: questionNumber,
		Explanation:    parsed.Explanation,
		References: models.ExplanationReferences{
			Videos:   emptyWhenNil(parsed.References.Videos),
			Articles: emptyWhenNil(parsed.References.Articles),
			Books:    emptyWhenNil(parsed.References.Books),
		},
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func parseExplanation(content string) (*rawExplanation, error) {
	payload, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	var raw rawExplanation
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: content, Reason: "malformed explanation object", Err: err}
	}
	if strings.TrimSpace(raw.Explanation) == "" {
		return nil, &llm.ErrInvalidResponse{Content: content, Reason: "explanation field missing or empty"}
	}
	return &raw, nil
}

func emptyWhenNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
