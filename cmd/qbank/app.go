package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/pavelanni/qbank/internal/answerkey"
	"github.com/pavelanni/qbank/internal/command"
	"github.com/pavelanni/qbank/internal/engine"
	"github.com/pavelanni/qbank/internal/events"
	appI18n "github.com/pavelanni/qbank/internal/i18n"
	"github.com/pavelanni/qbank/internal/llm"
	"github.com/pavelanni/qbank/internal/llm/prompts"
	"github.com/pavelanni/qbank/internal/metrics"
	"github.com/pavelanni/qbank/internal/model"
	"github.com/pavelanni/qbank/internal/secret"
	"github.com/pavelanni/qbank/internal/store"
)

const pingTimeout = 5 * time.Second

// app holds the wired components shared by the subcommands.
type app struct {
	store      *store.Store
	engine     *engine.Client
	keys       *answerkey.Orchestrator
	hub        *events.Hub
	dispatcher *command.Dispatcher
	registry   *prometheus.Registry
}

func newApp(v *viper.Viper) (*app, error) {
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	slog.Debug("loaded locales", "languages", appI18n.Languages())

	st, err := openStore(v)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	runner := engine.NewProcessRunner(v.GetString("engine-path"), v.GetStringSlice("engine-args")...)
	eng := engine.New(runner)

	solver, err := newSolver(v, eng)
	if err != nil {
		st.Close()
		return nil, err
	}

	opts := []answerkey.Option{answerkey.WithMetrics(m)}
	if perMinute := v.GetInt("solve-rate"); perMinute > 0 {
		opts = append(opts, answerkey.WithLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)))
	}
	keys := answerkey.New(st, solver, opts...)

	hub := events.NewHub()
	return &app{
		store:      st,
		engine:     eng,
		keys:       keys,
		hub:        hub,
		dispatcher: command.New(st, keys, eng, hub, m),
		registry:   reg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
}

// openStore opens the database and enables credential sealing when a
// secret key is configured.
func openStore(v *viper.Viper) (*store.Store, error) {
	st, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if key := v.GetString("secret-key"); key != "" {
		box, err := secret.New(key)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("secret key: %w", err)
		}
		st.UseSealer(box, model.SettingGeminiAPIKey)
	}
	return st, nil
}

func newSolver(v *viper.Viper, eng *engine.Client) (answerkey.Solver, error) {
	switch strings.ToLower(v.GetString("solver")) {
	case "", "process":
		return eng, nil
	case "openai":
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using brief", "variant", variant)
			variant = string(prompts.PromptBrief)
		}
		c, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), variant)
		if err != nil {
			return nil, fmt.Errorf("create LLM client: %w", err)
		}
		slog.Info("using OpenAI-compatible solver", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			slog.Warn("LLM health check failed", "error", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown solver %q (want process or openai)", v.GetString("solver"))
	}
}

// saveDetected stores the questions of one analysis progress event.
func saveDetected(st *store.Store, pdf string, detected []model.DetectedQuestion) (int, error) {
	saved := 0
	for _, d := range detected {
		_, err := st.InsertQuestion(model.Question{
			Text:        d.Text,
			ImagePath:   d.ImagePath,
			ImageBase64: d.Image,
			SourcePDF:   pdf,
			PageNumber:  d.Page,
			Difficulty:  d.Difficulty,
			Topic:       d.Topic,
		})
		if err != nil {
			return saved, fmt.Errorf("question %s: %w", d.ID, err)
		}
		saved++
	}
	return saved, nil
}

// loadQuestions imports question files. A file whose content hash was
// already recorded is skipped; a changed file is skipped with a warning.
func loadQuestions(db *store.Store, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return total, fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to avoid duplicates", "path", path)
			continue
		}

		var questions []model.QuestionImport
		if err := json.Unmarshal(data, &questions); err != nil {
			return total, fmt.Errorf("parse %s: %w", path, err)
		}

		for _, qi := range questions {
			_, err := db.InsertQuestion(model.Question{
				Text:        qi.Text,
				ImagePath:   qi.ImagePath,
				ImageBase64: qi.ImageBase64,
				Subject:     qi.Subject,
				SourcePDF:   qi.SourcePDF,
				PageNumber:  qi.PageNumber,
				Difficulty:  qi.Difficulty,
				Topic:       qi.Topic,
			})
			if err != nil {
				return total, fmt.Errorf("insert question from %s: %w", path, err)
			}
			total++
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return total, fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(questions))
	}
	return total, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
