package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/qbank/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

// maxQuestionRunes caps the text of a single question in a prompt.
const maxQuestionRunes = 4000

var questionTagRegex = regexp.MustCompile(`(?i)</?\s*question\b[^>]*>`)

// PromptVariant selects how much the solver is asked to explain.
type PromptVariant string

const (
	// PromptBrief asks for answers only.
	PromptBrief PromptVariant = "brief"
	// PromptDetailed asks for answers with a short solution each.
	PromptDetailed PromptVariant = "detailed"
)

var validVariants = map[PromptVariant]bool{
	PromptBrief:    true,
	PromptDetailed: true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	solveTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// SolveQuestion is one numbered question in a solve prompt.
type SolveQuestion struct {
	Number   int
	Text     string
	HasImage bool
}

// SolveData holds template data for solve prompts.
type SolveData struct {
	Questions []SolveQuestion
}

// Load parses the embedded prompt templates. It is safe to call more than
// once; only the first call does any work.
func Load() error {
	return load(templateFS)
}

func load(fsys fs.FS) error {
	loadOnce.Do(func() {
		solveTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptBrief, PromptDetailed} {
			file := "templates/solve_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New("solve").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			solveTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildSolvePrompt renders the solve prompt for the questions in order.
func BuildSolvePrompt(variant PromptVariant, questions []model.SolverQuestion) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := solveTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := SolveData{Questions: make([]SolveQuestion, len(questions))}
	for i, q := range questions {
		data.Questions[i] = SolveQuestion{
			Number:   i + 1,
			Text:     sanitizeQuestion(q.Text),
			HasImage: q.ImagePath != "",
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeQuestion(text string) string {
	text = questionTagRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[See attached image]"
	}

	if utf8.RuneCountInString(text) > maxQuestionRunes {
		runes := []rune(text)
		text = string(runes[:maxQuestionRunes]) + "\n[Question truncated due to length]"
	}
	return text
}
