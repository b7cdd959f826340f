package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/qbank/internal/model"
)

// TestNameLayout formats the generated test name in local time.
const TestNameLayout = "2006-01-02 15:04"

// CreateTest records a generated test and its member questions in one
// transaction. A studentID of 0 creates a test without an owner.
func (s *Store) CreateTest(studentID int64, questionIDs []int64) (int64, error) {
	now := s.now()
	name := "Test - " + now.Local().Format(TestNameLayout)

	var owner sql.NullInt64
	if studentID > 0 {
		owner = sql.NullInt64{Int64: studentID, Valid: true}
	}

	var id int64
	err := s.conn.Tx(func(tx querier) error {
		res, err := tx.Exec(`INSERT INTO tests (student_id, name, created_at) VALUES (?, ?, ?)`,
			owner, name, now.UTC())
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, qid := range questionIDs {
			if _, err := tx.Exec(`INSERT INTO test_questions (test_id, question_id) VALUES (?, ?)`, id, qid); err != nil {
				return fmt.Errorf("add question %d: %w", qid, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrap("create test", err)
	}
	slog.Info("created test", "id", id, "name", name, "questions", len(questionIDs))
	return id, nil
}

// GetTest returns a test by ID.
func (s *Store) GetTest(id int64) (model.Test, error) {
	var (
		t     model.Test
		owner sql.NullInt64
		name  sql.NullString
		key   sql.NullString
	)
	err := s.conn.Do(func(db querier) error {
		return db.QueryRow(
			`SELECT id, student_id, name, created_at, answer_key FROM tests WHERE id = ?`, id,
		).Scan(&t.ID, &owner, &name, &t.CreatedAt, &key)
	})
	if err != nil {
		return t, wrap("get test", err)
	}
	if owner.Valid {
		t.StudentID = &owner.Int64
	}
	t.Name = name.String
	t.AnswerKey = key.String
	return t, nil
}

// ListTests returns the test history, newest first, with the owner's name
// (nil when the test has no owner) and the number of member questions.
func (s *Store) ListTests() ([]model.TestSummary, error) {
	tests := []model.TestSummary{}
	err := s.conn.Do(func(db querier) error {
		rows, err := db.Query(
			`SELECT t.id, t.created_at, s.name,
			        (SELECT COUNT(*) FROM test_questions tq WHERE tq.test_id = t.id)
			 FROM tests t
			 LEFT JOIN students s ON s.id = t.student_id
			 ORDER BY t.created_at DESC, t.id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ts      model.TestSummary
				student sql.NullString
			)
			if err := rows.Scan(&ts.ID, &ts.CreatedAt, &student, &ts.QuestionCount); err != nil {
				return err
			}
			if student.Valid {
				name := student.String
				ts.StudentName = &name
			}
			tests = append(tests, ts)
		}
		return rows.Err()
	})
	return tests, wrap("list tests", err)
}

// GetTestQuestions returns a test's member questions in the order they
// were added.
func (s *Store) GetTestQuestions(testID int64) ([]model.Question, error) {
	var out []model.Question
	err := s.conn.Do(func(db querier) error {
		var err error
		out, err = queryQuestions(db,
			`SELECT `+questionColumns+` FROM questions
			 JOIN test_questions tq ON tq.question_id = questions.id
			 WHERE tq.test_id = ?
			 ORDER BY tq.rowid`, testID)
		return err
	})
	return out, wrap("get test questions", err)
}

// GetAnswerKey returns the cached answer key of a test. The boolean is
// false when no key has been stored yet.
func (s *Store) GetAnswerKey(testID int64) (string, bool, error) {
	var key sql.NullString
	err := s.conn.Do(func(db querier) error {
		return db.QueryRow(`SELECT answer_key FROM tests WHERE id = ?`, testID).Scan(&key)
	})
	if err != nil {
		return "", false, wrap("get answer key", err)
	}
	return key.String, key.Valid, nil
}

// SaveAnswerKey stores a test's answer key once. If a key is already
// stored it is left untouched and returned instead of key.
func (s *Store) SaveAnswerKey(testID int64, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("save answer key: %w: empty key", ErrInvalid)
	}
	stored := key
	err := s.conn.Tx(func(tx querier) error {
		res, err := tx.Exec(`UPDATE tests SET answer_key = ? WHERE id = ? AND answer_key IS NULL`, key, testID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		var existing sql.NullString
		if err := tx.QueryRow(`SELECT answer_key FROM tests WHERE id = ?`, testID).Scan(&existing); err != nil {
			return err
		}
		stored = existing.String
		return nil
	})
	if err != nil {
		return "", wrap("save answer key", err)
	}
	if stored != key {
		slog.Debug("answer key already stored, keeping existing", "test_id", testID)
	}
	return stored, nil
}

// DeleteTest removes a test and its memberships.
func (s *Store) DeleteTest(id int64) error {
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`DELETE FROM tests WHERE id = ?`, id)
		return requireRow(res, err)
	})
	return wrap("delete test", err)
}
