package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/qbank/internal/model"
)

type migration struct {
	version int
	name    string
	// table and column mark an additive column migration. If the column is
	// already present (databases created before versioning), the migration
	// is recorded without running its statements.
	table  string
	column string
	stmts  []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base tables",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS questions (
				id INTEGER PRIMARY KEY,
				text TEXT NOT NULL,
				image_path TEXT,
				image_base64 TEXT,
				subject TEXT,
				source_pdf TEXT,
				page_number INTEGER,
				difficulty INTEGER,
				topic TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS user_templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				path TEXT NOT NULL,
				preview_image TEXT NOT NULL,
				margins_json TEXT NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS students (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS student_solved_questions (
				student_id INTEGER,
				question_id INTEGER,
				solved_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (student_id, question_id),
				FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE,
				FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS tests (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				student_id INTEGER,
				name TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE SET NULL
			)`,
			`CREATE TABLE IF NOT EXISTS test_questions (
				test_id INTEGER,
				question_id INTEGER,
				FOREIGN KEY (test_id) REFERENCES tests(id) ON DELETE CASCADE,
				FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "questions.difficulty",
		table:   "questions",
		column:  "difficulty",
		stmts:   []string{`ALTER TABLE questions ADD COLUMN difficulty INTEGER`},
	},
	{
		version: 3,
		name:    "questions.topic",
		table:   "questions",
		column:  "topic",
		stmts:   []string{`ALTER TABLE questions ADD COLUMN topic TEXT`},
	},
	{
		version: 4,
		name:    "tests.answer_key",
		table:   "tests",
		column:  "answer_key",
		stmts:   []string{`ALTER TABLE tests ADD COLUMN answer_key TEXT`},
	},
	{
		version: 5,
		name:    "default difficulty backfill",
		stmts: []string{
			fmt.Sprintf(`UPDATE questions SET difficulty = %d WHERE difficulty IS NULL OR difficulty < 1`, model.DefaultDifficulty),
		},
	},
	{
		version: 6,
		name:    "indexes",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_questions_created_at ON questions(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic)`,
			`CREATE INDEX IF NOT EXISTS idx_test_questions_test ON test_questions(test_id)`,
			`CREATE INDEX IF NOT EXISTS idx_test_questions_question ON test_questions(question_id)`,
		},
	},
}

func (s *Store) migrate() error {
	err := s.conn.Do(func(q querier) error {
		_, err := q.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`)
		return err
	})
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := s.appliedVersions()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) error {
	return s.conn.Tx(func(tx querier) error {
		skip := false
		if m.column != "" {
			exists, err := hasColumn(tx, m.table, m.column)
			if err != nil {
				return err
			}
			skip = exists
		}
		if skip {
			slog.Debug("column already present, recording migration", "version", m.version, "table", m.table, "column", m.column)
		} else {
			for _, stmt := range m.stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
		}
		_, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UTC(),
		)
		if err == nil {
			slog.Info("applied migration", "version", m.version, "name", m.name)
		}
		return err
	})
}

func (s *Store) appliedVersions() (map[int]bool, error) {
	applied := make(map[int]bool)
	err := s.conn.Do(func(q querier) error {
		rows, err := q.Query(`SELECT version FROM schema_migrations`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return err
			}
			applied[v] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return applied, nil
}

// hasColumn reports whether table has a column with the given name.
func hasColumn(q querier, table, column string) (bool, error) {
	rows, err := q.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Migrations returns the applied schema migrations in version order.
func (s *Store) Migrations() ([]model.Migration, error) {
	var out []model.Migration
	err := s.conn.Do(func(q querier) error {
		rows, err := q.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m model.Migration
			if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, wrap("list migrations", err)
}

// SchemaVersion returns the latest known migration version.
func (s *Store) SchemaVersion() int {
	return migrations[len(migrations)-1].version
}
