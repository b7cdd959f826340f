package store

import (
	"strings"

	"github.com/pavelanni/qbank/internal/model"
)

const questionColumns = `id, text, COALESCE(image_path, ''), COALESCE(image_base64, ''),
	COALESCE(subject, ''), COALESCE(source_pdf, ''), COALESCE(page_number, 0),
	COALESCE(difficulty, 3), COALESCE(topic, ''), created_at`

// DefaultPageSize is used when a listing asks for a non-positive limit.
const DefaultPageSize = 20

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// questionQuery accumulates predicates over the questions table. Every
// rendered statement shares the same WHERE clause and argument list, so a
// page and its count always agree.
type questionQuery struct {
	where []string
	args  []any
	// empty is set when an id predicate with no ids was added; the query
	// matches nothing and callers skip the database.
	empty bool
}

func newQuestionQuery() *questionQuery {
	return &questionQuery{}
}

// filtered builds a query from the optional predicates of f.
func filtered(f model.QuestionFilter) *questionQuery {
	return newQuestionQuery().
		Search(f.Search).
		Topic(f.Topic).
		Difficulty(f.Difficulty).
		ExcludeSolvedBy(f.ExcludeSolvedBy)
}

// Search matches text or topic containing term, case-insensitively.
func (q *questionQuery) Search(term string) *questionQuery {
	if term == "" {
		return q
	}
	pattern := "%" + likeEscaper.Replace(term) + "%"
	q.where = append(q.where, `(text LIKE ? ESCAPE '\' OR topic LIKE ? ESCAPE '\')`)
	q.args = append(q.args, pattern, pattern)
	return q
}

// Topic matches an exact topic.
func (q *questionQuery) Topic(topic string) *questionQuery {
	if topic == "" {
		return q
	}
	q.where = append(q.where, `topic = ?`)
	q.args = append(q.args, topic)
	return q
}

// Difficulty matches an exact difficulty.
func (q *questionQuery) Difficulty(d int) *questionQuery {
	if d <= 0 {
		return q
	}
	q.where = append(q.where, `COALESCE(difficulty, 3) = ?`)
	q.args = append(q.args, d)
	return q
}

// ExcludeSolvedBy drops questions the student has already solved.
func (q *questionQuery) ExcludeSolvedBy(studentID int64) *questionQuery {
	if studentID <= 0 {
		return q
	}
	q.where = append(q.where, `id NOT IN (SELECT question_id FROM student_solved_questions WHERE student_id = ?)`)
	q.args = append(q.args, studentID)
	return q
}

// IDs restricts the query to the given ids, one placeholder per id.
func (q *questionQuery) IDs(ids []int64) *questionQuery {
	if len(ids) == 0 {
		q.empty = true
		return q
	}
	q.where = append(q.where, `id IN (`+placeholders(len(ids))+`)`)
	for _, id := range ids {
		q.args = append(q.args, id)
	}
	return q
}

// Empty reports whether the query can match no rows without running it.
func (q *questionQuery) Empty() bool {
	return q.empty
}

func (q *questionQuery) whereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *questionQuery) argsWith(extra ...any) []any {
	out := make([]any, 0, len(q.args)+len(extra))
	out = append(out, q.args...)
	return append(out, extra...)
}

// Select renders the row query, newest first.
func (q *questionQuery) Select() (string, []any) {
	return `SELECT ` + questionColumns + ` FROM questions` + q.whereClause() +
		` ORDER BY created_at DESC, id DESC`, q.argsWith()
}

// Count renders the count query over the same predicates.
func (q *questionQuery) Count() (string, []any) {
	return `SELECT COUNT(*) FROM questions` + q.whereClause(), q.argsWith()
}

// Page renders one 1-based page of the row query.
func (q *questionQuery) Page(page, limit int) (string, []any) {
	page, limit = normalizePage(page, limit)
	sel, _ := q.Select()
	return sel + ` LIMIT ? OFFSET ?`, q.argsWith(limit, (page-1)*limit)
}

// Random renders up to n rows in random order.
func (q *questionQuery) Random(n int) (string, []any) {
	return `SELECT ` + questionColumns + ` FROM questions` + q.whereClause() +
		` ORDER BY RANDOM() LIMIT ?`, q.argsWith(n)
}

// Delete renders a delete over the same predicates.
func (q *questionQuery) Delete() (string, []any) {
	return `DELETE FROM questions` + q.whereClause(), q.argsWith()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	return page, limit
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
