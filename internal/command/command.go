// Package command dispatches named boundary commands with JSON arguments
// to the store, the answer key orchestrator and the worker.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pavelanni/qbank/internal/answerkey"
	"github.com/pavelanni/qbank/internal/engine"
	"github.com/pavelanni/qbank/internal/events"
	"github.com/pavelanni/qbank/internal/metrics"
	"github.com/pavelanni/qbank/internal/store"
)

var (
	// ErrBadRequest is returned when command arguments cannot be decoded or
	// are missing a required value.
	ErrBadRequest = errors.New("bad request")
	// ErrUnknownCommand is returned for a command name with no handler.
	ErrUnknownCommand = errors.New("unknown command")
)

// UnknownCommandError names the command that has no handler.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return "unknown command: " + e.Name
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher routes commands to their handlers.
type Dispatcher struct {
	store    *store.Store
	keys     *answerkey.Orchestrator
	engine   *engine.Client
	hub      *events.Hub
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc

	// background tracks detached work such as document analysis.
	background sync.WaitGroup
}

// New creates a dispatcher. m may be nil.
func New(st *store.Store, keys *answerkey.Orchestrator, eng *engine.Client, hub *events.Hub, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{store: st, keys: keys, engine: eng, hub: hub, metrics: m}
	d.handlers = map[string]handlerFunc{
		"save_question":            d.saveQuestion,
		"list_questions":           d.listQuestions,
		"list_questions_paginated": d.listQuestionsPaginated,
		"get_questions_by_ids":     d.getQuestionsByIDs,
		"delete_question":          d.deleteQuestion,
		"delete_questions":         d.deleteQuestions,
		"get_topics":               d.getTopics,
		"generate_test":            d.generateTest,

		"save_template":   d.saveTemplate,
		"list_templates":  d.listTemplates,
		"delete_template": d.deleteTemplate,
		"update_template": d.updateTemplate,

		"add_student":    d.addStudent,
		"list_students":  d.listStudents,
		"delete_student": d.deleteStudent,

		"mark_test_solved":   d.markTestSolved,
		"save_test_record":   d.saveTestRecord,
		"list_tests":         d.listTests,
		"get_test_questions": d.getTestQuestions,
		"delete_test":        d.deleteTest,

		"get_answer_key":      d.getAnswerKey,
		"generate_answer_key": d.generateAnswerKey,

		"get_setting":  d.getSetting,
		"save_setting": d.saveSetting,

		"analyze_pdf":      d.analyzePDF,
		"analyze_template": d.analyzeTemplate,
		"export_test_pdf":  d.exportTestPDF,
	}
	return d
}

// Commands returns the sorted names of every registered command.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named command. args is a JSON object of camelCase
// arguments and may be empty for commands without arguments.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	h, ok := d.handlers[name]
	if !ok {
		d.observe("unknown", time.Time{}, &UnknownCommandError{Name: name})
		return nil, &UnknownCommandError{Name: name}
	}
	start := time.Now()
	out, err := h(ctx, args)
	d.observe(name, start, err)
	if err != nil {
		slog.Warn("command failed", "command", name, "error", err)
		return nil, err
	}
	slog.Debug("command completed", "command", name, "duration", time.Since(start))
	return out, nil
}

// Wait blocks until detached background work has finished.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

func (d *Dispatcher) observe(name string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.Commands.WithLabelValues(name, status).Inc()
	if !start.IsZero() {
		d.metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// decode unmarshals command arguments into T. Missing arguments decode to
// the zero value.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return v, nil
}

func badRequest(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, a...))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
