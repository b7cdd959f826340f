package model

import (
	"context"
	"time"
)

// DefaultDifficulty is used when a question carries no difficulty.
const DefaultDifficulty = 3

// Difficulty bounds on the 1-5 scale.
const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// SettingGeminiAPIKey holds the credential handed to the external solver.
const SettingGeminiAPIKey = "gemini_api_key"

// Question is a single exam question extracted from a source document.
type Question struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	ImagePath   string    `json:"image_path"`
	ImageBase64 string    `json:"image_base64,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	SourcePDF   string    `json:"source_pdf,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	Difficulty  int       `json:"difficulty"`
	Topic       string    `json:"topic,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuestionFilter narrows question listings. Zero values mean no filtering.
type QuestionFilter struct {
	Search     string `json:"search,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
	// ExcludeSolvedBy drops questions the given student has already solved.
	ExcludeSolvedBy int64 `json:"exclude_solved_by,omitempty"`
}

// QuestionPage is one page of a filtered listing plus the total match count.
type QuestionPage struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
}

// Margins are page margins in 0-1000 normalized units.
type Margins struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// Template is a user-supplied page layout used when rendering tests.
type Template struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	PreviewImage string    `json:"preview_image"`
	MarginsJSON  string    `json:"margins_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is a named learner that tests can be assigned to.
type Student struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Test is a generated set of questions, optionally owned by a student.
type Test struct {
	ID        int64     `json:"id"`
	StudentID *int64    `json:"student_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	AnswerKey string    `json:"answer_key,omitempty"`
}

// TestSummary is a row of the test history listing.
type TestSummary struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	StudentName   *string   `json:"student_name"`
	QuestionCount int       `json:"question_count"`
}

// Migration describes an applied schema version.
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Text        string `json:"text"`
	ImagePath   string `json:"image_path"`
	ImageBase64 string `json:"image_base64"`
	Subject     string `json:"subject"`
	SourcePDF   string `json:"source_pdf"`
	PageNumber  int    `json:"page_number"`
	Difficulty  int    `json:"difficulty"`
	Topic       string `json:"topic"`
}

type langCtxKey struct{}

// ContextWithLang stores the caller's preferred language in context.
func ContextWithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, langCtxKey{}, lang)
}

// LangFromContext returns the preferred language, or empty string if not set.
func LangFromContext(ctx context.Context) string {
	l, _ := ctx.Value(langCtxKey{}).(string)
	return l
}
