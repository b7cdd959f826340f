package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pavelanni/qbank/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	err := r.Scan(&q.ID, &q.Text, &q.ImagePath, &q.ImageBase64, &q.Subject,
		&q.SourcePDF, &q.PageNumber, &q.Difficulty, &q.Topic, &q.CreatedAt)
	return q, err
}

func queryQuestions(q querier, query string, args ...any) ([]model.Question, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, qq)
	}
	return questions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// InsertQuestion stores a question. Difficulty below 1 is stored as the
// default; an empty topic is stored as absent.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	if strings.TrimSpace(q.Text) == "" {
		return 0, fmt.Errorf("insert question: %w: empty text", ErrInvalid)
	}
	if q.Difficulty < model.MinDifficulty {
		q.Difficulty = model.DefaultDifficulty
	}
	var id int64
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(
			`INSERT INTO questions (text, image_path, image_base64, subject, source_pdf, page_number, difficulty, topic, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.Text, q.ImagePath, nullString(q.ImageBase64), nullString(q.Subject), nullString(q.SourcePDF),
			nullInt(q.PageNumber), q.Difficulty, nullString(strings.TrimSpace(q.Topic)), s.now().UTC(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, wrap("insert question", err)
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.conn.Do(func(db querier) error {
		var err error
		q, err = scanQuestion(db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
		return err
	})
	return q, wrap("get question", err)
}

// ListQuestions returns all questions, newest first.
func (s *Store) ListQuestions() ([]model.Question, error) {
	return s.ListQuestionsFiltered(model.QuestionFilter{})
}

// ListQuestionsFiltered returns every question matching f, newest first.
func (s *Store) ListQuestionsFiltered(f model.QuestionFilter) ([]model.Question, error) {
	query, args := filtered(f).Select()
	var out []model.Question
	err := s.conn.Do(func(db querier) error {
		var err error
		out, err = queryQuestions(db, query, args...)
		return err
	})
	return out, wrap("list questions", err)
}

// ListQuestionsPage returns one 1-based page of questions matching f and
// the total number of matches.
func (s *Store) ListQuestionsPage(f model.QuestionFilter, page, limit int) (model.QuestionPage, error) {
	qq := filtered(f)
	pageQuery, pageArgs := qq.Page(page, limit)
	countQuery, countArgs := qq.Count()

	var out model.QuestionPage
	err := s.conn.Do(func(db querier) error {
		var err error
		if out.Questions, err = queryQuestions(db, pageQuery, pageArgs...); err != nil {
			return err
		}
		return db.QueryRow(countQuery, countArgs...).Scan(&out.Total)
	})
	return out, wrap("list questions page", err)
}

// GetQuestionsByIDs returns the questions with the given ids. Missing ids
// are skipped.
func (s *Store) GetQuestionsByIDs(ids []int64) ([]model.Question, error) {
	qq := newQuestionQuery().IDs(ids)
	if qq.Empty() {
		return []model.Question{}, nil
	}
	query, args := qq.Select()
	var out []model.Question
	err := s.conn.Do(func(db querier) error {
		var err error
		out, err = queryQuestions(db, query, args...)
		return err
	})
	return out, wrap("get questions by ids", err)
}

// DeleteQuestion removes a question; its solved marks and test memberships
// go with it.
func (s *Store) DeleteQuestion(id int64) error {
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`DELETE FROM questions WHERE id = ?`, id)
		return requireRow(res, err)
	})
	return wrap("delete question", err)
}

// DeleteQuestions removes every question in ids in one transaction and
// returns how many were deleted.
func (s *Store) DeleteQuestions(ids []int64) (int64, error) {
	qq := newQuestionQuery().IDs(ids)
	if qq.Empty() {
		return 0, nil
	}
	query, args := qq.Delete()
	var n int64
	err := s.conn.Tx(func(tx querier) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, wrap("delete questions", err)
}

// QuestionCount returns the total number of questions.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.conn.Do(func(db querier) error {
		return db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	})
	return count, wrap("count questions", err)
}

// ListDistinctTopics returns all non-empty topics in alphabetical order.
func (s *Store) ListDistinctTopics() ([]string, error) {
	topics := []string{}
	err := s.conn.Do(func(db querier) error {
		rows, err := db.Query(`SELECT DISTINCT topic FROM questions WHERE topic IS NOT NULL AND topic != '' ORDER BY topic ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return err
			}
			topics = append(topics, t)
		}
		return rows.Err()
	})
	return topics, wrap("list topics", err)
}

// RandomQuestions returns up to count distinct questions matching f in
// random order. A smaller pool yields fewer questions.
func (s *Store) RandomQuestions(f model.QuestionFilter, count int) ([]model.Question, error) {
	if count <= 0 {
		return []model.Question{}, nil
	}
	query, args := filtered(f).Random(count)
	var out []model.Question
	err := s.conn.Do(func(db querier) error {
		var err error
		out, err = queryQuestions(db, query, args...)
		return err
	})
	return out, wrap("random questions", err)
}
