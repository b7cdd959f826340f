package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/qbank/internal/model"
)

const templateColumns = `id, name, path, preview_image, margins_json, created_at`

func scanTemplate(r rowScanner) (model.Template, error) {
	var t model.Template
	err := r.Scan(&t.ID, &t.Name, &t.Path, &t.PreviewImage, &t.MarginsJSON, &t.CreatedAt)
	return t, err
}

func validMargins(marginsJSON string) error {
	var m model.Margins
	if err := json.Unmarshal([]byte(marginsJSON), &m); err != nil {
		return fmt.Errorf("%w: margins: %v", ErrInvalid, err)
	}
	return nil
}

// CreateTemplate stores a page template.
func (s *Store) CreateTemplate(t model.Template) (int64, error) {
	if strings.TrimSpace(t.Name) == "" {
		return 0, fmt.Errorf("create template: %w: empty name", ErrInvalid)
	}
	if err := validMargins(t.MarginsJSON); err != nil {
		return 0, fmt.Errorf("create template: %w", err)
	}
	var id int64
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(
			`INSERT INTO user_templates (name, path, preview_image, margins_json, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.Name, t.Path, t.PreviewImage, t.MarginsJSON, s.now().UTC(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, wrap("create template", err)
}

// GetTemplate returns a template by ID.
func (s *Store) GetTemplate(id int64) (model.Template, error) {
	var t model.Template
	err := s.conn.Do(func(db querier) error {
		var err error
		t, err = scanTemplate(db.QueryRow(`SELECT `+templateColumns+` FROM user_templates WHERE id = ?`, id))
		return err
	})
	return t, wrap("get template", err)
}

// ListTemplates returns all templates, newest first.
func (s *Store) ListTemplates() ([]model.Template, error) {
	templates := []model.Template{}
	err := s.conn.Do(func(db querier) error {
		rows, err := db.Query(`SELECT ` + templateColumns + ` FROM user_templates ORDER BY created_at DESC, id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			templates = append(templates, t)
		}
		return rows.Err()
	})
	return templates, wrap("list templates", err)
}

// UpdateTemplate changes a template's name and margins. Path and preview
// are fixed at creation.
func (s *Store) UpdateTemplate(id int64, name, marginsJSON string) error {
	if err := validMargins(marginsJSON); err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`UPDATE user_templates SET name = ?, margins_json = ? WHERE id = ?`, name, marginsJSON, id)
		return requireRow(res, err)
	})
	return wrap("update template", err)
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(id int64) error {
	err := s.conn.Do(func(db querier) error {
		res, err := db.Exec(`DELETE FROM user_templates WHERE id = ?`, id)
		return requireRow(res, err)
	})
	return wrap("delete template", err)
}
