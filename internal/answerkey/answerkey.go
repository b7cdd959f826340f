// Package answerkey generates and caches the answer key of a test.
//
// Generate walks a small state machine:
//
//	Cached -> done
//	Preparing -> Solving -> Persisting -> done
//	any step -> Failed
//
// A stored key is never recomputed. A failed run stores nothing, so the
// next call retries from Preparing.
package answerkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/pavelanni/qbank/internal/engine"
	"github.com/pavelanni/qbank/internal/metrics"
	"github.com/pavelanni/qbank/internal/model"
)

// State is a step of answer key generation.
type State string

const (
	StateCached     State = "cached"
	StatePreparing  State = "preparing"
	StateSolving    State = "solving"
	StatePersisting State = "persisting"
	StateFailed     State = "failed"
)

// ErrEmptyTest is returned for a test without member questions.
var ErrEmptyTest = errors.New("test has no questions")

// SolveError is returned when the solver ran but produced no usable key.
type SolveError struct {
	Diagnostic string
}

func (e *SolveError) Error() string {
	return "solve failed: " + e.Diagnostic
}

// Store is the persistence the orchestrator needs.
type Store interface {
	GetAnswerKey(testID int64) (string, bool, error)
	GetTestQuestions(testID int64) ([]model.Question, error)
	GetSetting(key string) (string, bool, error)
	SaveAnswerKey(testID int64, key string) (string, error)
}

// Solver computes an answer key. Both the external worker client and the
// in-process LLM client satisfy it.
type Solver interface {
	Solve(ctx context.Context, questions []model.SolverQuestion, apiKey string) (string, error)
}

// Orchestrator generates answer keys.
type Orchestrator struct {
	store   Store
	solver  Solver
	limiter *rate.Limiter
	metrics *metrics.Metrics
	tracer  trace.Tracer
	group   singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter throttles solver invocations.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithMetrics records outcomes and solve durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator.
func New(st Store, sv Solver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		solver: sv,
		tracer: otel.Tracer("github.com/pavelanni/qbank/internal/answerkey"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Get returns the cached answer key of a test, or empty string if none has
// been generated yet.
func (o *Orchestrator) Get(testID int64) (string, error) {
	key, _, err := o.store.GetAnswerKey(testID)
	return key, err
}

// Generate returns the answer key of a test, computing and storing it on
// the first call. Concurrent calls for the same test share one solve. A
// caller that cancels stops waiting; the shared run, limiter wait included,
// carries on for the remaining callers and stores its result.
func (o *Orchestrator) Generate(ctx context.Context, testID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch := o.group.DoChan(strconv.FormatInt(testID, 10), func() (any, error) {
		return o.generate(context.WithoutCancel(ctx), testID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("joined in-flight answer key generation", "test_id", testID)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (o *Orchestrator) generate(ctx context.Context, testID int64) (string, error) {
	runID := uuid.NewString()
	log := slog.With("test_id", testID, "run_id", runID)
	ctx, span := o.tracer.Start(ctx, "answerkey.generate",
		trace.WithAttributes(attribute.Int64("test_id", testID), attribute.String("run_id", runID)))
	defer span.End()

	fail := func(outcome string, err error) (string, error) {
		log.Warn("answer key generation failed", "state", StateFailed, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		o.count(outcome)
		return "", err
	}

	key, ok, err := o.store.GetAnswerKey(testID)
	if err != nil {
		return fail("storage", fmt.Errorf("read answer key: %w", err))
	}
	if ok {
		log.Debug("answer key state", "state", StateCached)
		o.count("cached")
		return key, nil
	}

	log.Info("answer key state", "state", StatePreparing)
	questions, err := o.store.GetTestQuestions(testID)
	if err != nil {
		return fail("storage", fmt.Errorf("load test questions: %w", err))
	}
	if len(questions) == 0 {
		return fail("empty", ErrEmptyTest)
	}
	apiKey, _, err := o.store.GetSetting(model.SettingGeminiAPIKey)
	if err != nil {
		return fail("storage", fmt.Errorf("read credential: %w", err))
	}
	input := make([]model.SolverQuestion, len(questions))
	for i, q := range questions {
		input[i] = model.SolverQuestion{ID: q.ID, Text: q.Text, ImagePath: q.ImagePath}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return fail("throttled", fmt.Errorf("wait for solver slot: %w", err))
		}
	}

	log.Info("answer key state", "state", StateSolving, "questions", len(input))
	start := time.Now()
	out, err := o.solver.Solve(ctx, input, apiKey)
	if o.metrics != nil {
		o.metrics.SolveDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		var te *engine.TransportError
		if errors.As(err, &te) {
			return fail("transport", err)
		}
		return fail("solve", &SolveError{Diagnostic: diagnostic(err)})
	}
	if reason := unusable(out); reason != "" {
		return fail("solve", &SolveError{Diagnostic: reason})
	}

	log.Info("answer key state", "state", StatePersisting)
	stored, err := o.store.SaveAnswerKey(testID, out)
	if err != nil {
		return fail("storage", fmt.Errorf("save answer key: %w", err))
	}
	o.count("generated")
	log.Info("answer key generated", "bytes", len(stored), "duration", time.Since(start))
	return stored, nil
}

func (o *Orchestrator) count(outcome string) {
	if o.metrics != nil {
		o.metrics.AnswerKeys.WithLabelValues(outcome).Inc()
	}
}

func diagnostic(err error) string {
	var ee *engine.ExitError
	if errors.As(err, &ee) {
		if msg := strings.TrimSpace(ee.Stderr); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// unusable returns why solver output cannot be stored, or empty string.
func unusable(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return "solver produced no output"
	}
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err == nil && len(payload.Error) > 0 && string(payload.Error) != "null" {
		var msg string
		if json.Unmarshal(payload.Error, &msg) == nil {
			if msg == "" {
				msg = "solver reported an error"
			}
			return msg
		}
		return string(payload.Error)
	}
	return ""
}
