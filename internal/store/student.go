package store

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/qbank/internal/model"
)

// CreateStudent inserts a new student. Names are unique; a second student
// with the same name fails with ErrDuplicate.
func (s *Store) CreateStudent(name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("create student: %w: empty name", ErrInvalid)
	}
	var id int64
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`INSERT INTO students (name, created_at) VALUES (?, ?)`, name, s.now().UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		slog.Error("failed to create student", "name", name, "error", err)
		return 0, wrap("create student", err)
	}
	slog.Info("created student", "id", id, "name", name)
	return id, nil
}

// ListStudents returns all students in alphabetical order.
func (s *Store) ListStudents() ([]model.Student, error) {
	students := []model.Student{}
	err := s.conn.Do(func(db querier) error {
		rows, err := db.Query(`SELECT id, name, created_at FROM students ORDER BY name ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var st model.Student
			if err := rows.Scan(&st.ID, &st.Name, &st.CreatedAt); err != nil {
				return err
			}
			students = append(students, st)
		}
		return rows.Err()
	})
	return students, wrap("list students", err)
}

// DeleteStudent removes a student. Their solved marks are deleted and their
// tests are kept without an owner.
func (s *Store) DeleteStudent(id int64) error {
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`DELETE FROM students WHERE id = ?`, id)
		return requireRow(res, err)
	})
	return wrap("delete student", err)
}

// MarkSolved records that the student has solved each question. Marking a
// pair twice leaves a single record.
func (s *Store) MarkSolved(studentID int64, questionIDs []int64) error {
	if len(questionIDs) == 0 {
		return nil
	}
	err := s.conn.Tx(func(tx querier) error {
		for _, qid := range questionIDs {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO student_solved_questions (student_id, question_id, solved_at) VALUES (?, ?, ?)`,
				studentID, qid, s.now().UTC(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("mark solved", err)
}

// SolvedQuestionIDs returns the ids of questions the student has solved.
func (s *Store) SolvedQuestionIDs(studentID int64) ([]int64, error) {
	ids := []int64{}
	err := s.conn.Do(func(db querier) error {
		rows, err := db.Query(
			`SELECT question_id FROM student_solved_questions WHERE student_id = ? ORDER BY question_id`, studentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, wrap("list solved questions", err)
}
