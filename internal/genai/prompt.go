package genai

import (
	"fmt"
	"strings"

	"github.com/exowa/exowa-api/internal/models"
)

func questionPrompt(spec PaperSpec, firstNumber, count int) string {
	return fmt.Sprintf(`Generate exactly %d multiple-choice questions for a %s exam
for class %s based on the %s syllabus, covering chapters %s to %s.
The questions should be in %s.

Important formatting rules:
1. Use only standard ASCII characters
2. Avoid special characters or symbols
3. Keep questions concise and clear

Return the response in this exact JSON format:
[
  {
    "questionNumber": %d,
    "question": "question text",
    "choices": {
      "A": "first option",
      "B": "second option",
      "C": "third option",
      "D": "fourth option"
    },
    "correctAnswer": "A"
  }
]

Respond with only the JSON array, no additional text.`,
		count, spec.Subject, spec.ClassName, spec.Syllabus,
		spec.ChapterFrom, spec.ChapterTo, spec.Language, firstNumber)
}

func explanationPrompt(paper *models.Paper, question *models.Question) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are an experienced %s teacher. A class %s student following the %s
syllabus (chapters %s to %s) needs help understanding an exam question.
Answer in %s.

`, paper.Subject, paper.ClassName, paper.Syllabus, paper.ChapterFrom, paper.ChapterTo, paper.Language)

	if question != nil {
		fmt.Fprintf(&b, "Question %d: %s\n", question.QuestionNumber, question.Question)
		for _, key := range choiceKeys {
			fmt.Fprintf(&b, "%s. %s\n", key, question.Choices[key])
		}
		fmt.Fprintf(&b, "Correct answer: %s\n\n", question.CorrectAnswer)
		b.WriteString("Explain why the correct answer is right and why the others are wrong.\n")
	} else {
		fmt.Fprintf(&b, "The paper contains %d questions:\n", len(paper.Questions))
		for _, q := range paper.Questions {
			fmt.Fprintf(&b, "%d. %s (correct: %s)\n", q.QuestionNumber, q.Question, q.CorrectAnswer)
		}
		b.WriteString("\nExplain the key concepts the paper tests, question by question.\n")
	}

	b.WriteString(`
Return the response in this exact JSON format:
{
  "explanation": "detailed explanation text",
  "references": {
    "videos": ["video title or link"],
    "articles": ["article title or link"],
    "books": ["book title"]
  }
}

Respond with only the JSON object, no additional text.`)

	return b.String()
}
