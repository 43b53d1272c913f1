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

// choiceKeys is the required option key set for every generated question.
var choiceKeys = []string{"A", "B", "C", "D"}

// PaperSpec describes the curriculum request a paper is generated from.
type PaperSpec struct {
	ClassName   string
	Subject     string
	Syllabus    string
	ChapterFrom string
	ChapterTo   string
	Language    string
	Count       int
}

func (s PaperSpec) validate() error {
	missing := make([]string, 0, 6)
	for field, value := range map[string]string{
		"class":        s.ClassName,
		"subject":      s.Subject,
		"syllabus":     s.Syllabus,
		"chapter_from": s.ChapterFrom,
		"chapter_to":   s.ChapterTo,
		"language":     s.Language,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ErrInvalidSpec{Missing: missing}
	}
	if s.Count <= 0 {
		return &ErrInvalidSpec{Missing: []string{"count"}}
	}
	return nil
}

// QuestionConfig tunes the question generation pipeline.
type QuestionConfig struct {
	// ChunkSize is the maximum questions requested per provider call.
	ChunkSize int
	// MaxAttempts bounds retries per chunk.
	MaxAttempts int
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
	// MaxTokens bounds the response length per call.
	MaxTokens int
	// Temperature for generation.
	Temperature float64
}

func (c QuestionConfig) withDefaults() QuestionConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// QuestionGenerator turns a curriculum spec into a validated, sequentially
// numbered multiple-choice question set via chunked provider calls.
type QuestionGenerator struct {
	provider *llm.RetryProvider
	config   QuestionConfig
	logger   *zap.Logger
}

// NewQuestionGenerator builds a generator around the shared provider. Each
// chunk call gets its own timeout and retry budget.
func NewQuestionGenerator(provider llm.Provider, cfg QuestionConfig, logger *zap.Logger) *QuestionGenerator {
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
	return &QuestionGenerator{provider: retrying, config: cfg, logger: logger}
}

// rawQuestion is the provider output shape before validation.
type rawQuestion struct {
	QuestionNumber json.Number       `json:"questionNumber"`
	Question       string            `json:"question"`
	Choices        map[string]string `json:"choices"`
	CorrectAnswer  string            `json:"correctAnswer"`
}

// Generate produces exactly spec.Count questions numbered 1..Count. The
// request is partitioned into chunks; each chunk is retried independently.
// A total differing from the requested count fails hard rather than being
// silently truncated.
func (g *QuestionGenerator) Generate(ctx context.Context, spec PaperSpec) ([]models.Question, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	chunks := (spec.Count + g.config.ChunkSize - 1) / g.config.ChunkSize
	all := make([]models.Question, 0, spec.Count)

	for i := 0; i < chunks; i++ {
		size := g.config.ChunkSize
		if remaining := spec.Count - i*g.config.ChunkSize; remaining < size {
			size = remaining
		}

		questions, err := g.generateChunk(ctx, spec, i, size)
		if err != nil {
			return nil, &ErrGenerationFailed{Chunk: i + 1, Err: err}
		}

		g.logger.Debug("chunk generated",
			zap.Int("chunk", i+1),
			zap.Int("requested", size),
			zap.Int("valid", len(questions)))
		all = append(all, questions...)
	}

	if len(all) != spec.Count {
		return nil, &ErrIncomplete{Want: spec.Count, Got: len(all)}
	}

	// Provider-assigned numbers are scaffolding; renumber in arrival order.
	for i := range all {
		all[i].QuestionNumber = i + 1
	}
	return all, nil
}

func (g *QuestionGenerator) generateChunk(ctx context.Context, spec PaperSpec, chunk, size int) ([]models.Question, error) {
	prompt := questionPrompt(spec, chunk*g.config.ChunkSize+1, size)

	// Parsing happens inside the retried unit, so a response without a
	// usable question array is regenerated instead of failing the chunk.
	var questions []models.Question
	_, err := g.provider.GenerateValidated(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	}, func(resp *llm.Response) error {
		parsed, err := parseQuestions(resp.Content)
		if err != nil {
			return err
		}
		if len(parsed) == 0 {
			return &llm.ErrInvalidResponse{Content: resp.Content, Reason: "no valid questions in response"}
		}
		questions = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// parseQuestions extracts the JSON array from the model output, sanitizes it
// to ASCII and keeps only structurally valid entries. Invalid entries are
// dropped silently.
func parseQuestions(content string) ([]models.Question, error) {
	sanitized := sanitizeASCII(content)

	payload, err := llm.ExtractJSON(sanitized)
	if err != nil {
		return nil, err
	}

	var raw []rawQuestion
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: sanitized, Reason: "malformed question array", Err: err}
	}

	valid := make([]models.Question, 0, len(raw))
	for _, r := range raw {
		q, ok := validateQuestion(r)
		if !ok {
			continue
		}
		valid = append(valid, q)
	}
	return valid, nil
}

func validateQuestion(r rawQuestion) (models.Question, bool) {
	number, err := r.QuestionNumber.Int64()
	if err != nil || number <= 0 {
		return models.Question{}, false
	}
	if strings.TrimSpace(r.Question) == "" {
		return models.Question{}, false
	}
	if len(r.Choices) != len(choiceKeys) {
		return models.Question{}, false
	}
	for _, key := range choiceKeys {
		if strings.TrimSpace(r.Choices[key]) == "" {
			return models.Question{}, false
		}
	}
	answerOK := false
	for _, key := range choiceKeys {
		if r.CorrectAnswer == key {
			answerOK = true
			break
		}
	}
	if !answerOK {
		return models.Question{}, false
	}

	return models.Question{
		QuestionNumber: int(number),
		Question:       strings.TrimSpace(r.Question),
		Choices:        r.Choices,
		CorrectAnswer:  r.CorrectAnswer,
	}, true
}

// sanitizeASCII normalizes smart quotes and strips remaining non-printable
// non-ASCII characters from model output.
func sanitizeASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '‘', '’':
			b.WriteByte('\'')
		case '“', '”':
			b.WriteByte('"')
		case '\n', '\t':
			b.WriteRune(r)
		default:
			if r >= 0x20 && r <= 0x7E {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
