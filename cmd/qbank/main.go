package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/qbank/internal/bridge"
	"github.com/pavelanni/qbank/internal/command"
	"github.com/pavelanni/qbank/internal/events"
	appI18n "github.com/pavelanni/qbank/internal/i18n"
	"github.com/pavelanni/qbank/internal/llm/prompts"
	"github.com/pavelanni/qbank/internal/model"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qbank",
		Short: "Question bank and answer key service for the exam builder",
	}

	serve := serveCmd()
	root.AddCommand(serve, invokeCmd(), migrateCmd(), answerKeyCmd(), analyzeCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "qbank.db", "SQLite database path")
	f.String("engine-path", "engine", "Worker executable for analysis, export and solving")
	f.StringSlice("engine-args", nil, "Arguments prepended to every worker invocation (e.g. a script path)")
	f.String("solver", "process", "Answer key solver (process, openai)")
	f.String("llm-url", "https://generativelanguage.googleapis.com/v1beta/openai", "OpenAI-compatible API base URL for --solver openai")
	f.String("llm-key", "", "Fallback API key for --solver openai")
	f.String("llm-model", "gemini-2.0-flash", "Model name for --solver openai")
	f.String("prompt-variant", string(prompts.PromptBrief), "Solve prompt variant (brief, detailed)")
	f.Int("solve-rate", 0, "Maximum answer key solves per minute (0 = unlimited)")
	f.String("secret-key", "", "Key used to seal credentials at rest (or set QBANK_SECRET_KEY)")
	f.StringP("lang", "l", "en", "Message language (en, tr)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the loopback bridge for the desktop frontend",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", "127.0.0.1:8765", "Bridge listen address")
	f.StringSlice("cors-origins", []string{"tauri://localhost", "http://tauri.localhost", "http://localhost:1420"},
		"Frontend origins allowed to call the bridge")
	return cmd
}

func invokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <command> [json-args]",
		Short: "Run one boundary command and print its JSON result",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runInvoke,
	}
	commonFlags(cmd)
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and list applied versions",
		RunE:  runMigrate,
	}
	commonFlags(cmd)
	return cmd
}

func answerKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer-key <test-id>",
		Short: "Print the answer key of a test, generating it on first use",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnswerKey,
	}
	commonFlags(cmd)
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <pdf>",
		Short: "Detect questions in a PDF and print analysis events",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	commonFlags(cmd)
	cmd.Flags().Bool("save", false, "Save every detected question to the bank")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.json>...",
		Short: "Import questions from JSON files, skipping files already imported",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("QBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("qbank")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/qbank")
	v.AddConfigPath("/etc/qbank")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	h := bridge.New(a.dispatcher, a.hub)
	router := bridge.NewRouter(h, bridge.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		Gatherer:       a.registry,
	})

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting bridge",
			"addr", addr,
			"db", v.GetString("db"),
			"solver", v.GetString("solver"),
			"engine", v.GetString("engine-path"),
			"lang", v.GetString("lang"),
			"commands", len(a.dispatcher.Commands()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.dispatcher.Wait()
	return nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	var raw json.RawMessage
	if len(args) == 2 {
		raw = json.RawMessage(args[1])
	}

	// Background commands report through the hub; print what they publish.
	sub := a.hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(cmd.OutOrStdout())
		for msg := range sub.C {
			_ = enc.Encode(msg)
		}
	}()

	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(v.GetString("lang")))
	out, err := a.dispatcher.Invoke(ctx, args[0], raw)
	a.dispatcher.Wait()
	sub.Close()
	<-done
	if err != nil {
		return errors.New(command.Message(ctx, err))
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	applied, err := st.Migrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "%3d  %-32s  %s\n", m.Version, m.Name, m.AppliedAt.Local().Format(time.DateTime))
	}
	slog.Info("schema up to date", "version", st.SchemaVersion())
	return nil
}

func runAnswerKey(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	testID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid test id %q: %w", args[0], err)
	}

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(v.GetString("lang")))
	key, err := a.keys.Generate(ctx, testID)
	if err != nil {
		return errors.New(command.Message(ctx, err))
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
	return err
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	apiKey, _, err := a.store.GetSetting(model.SettingGeminiAPIKey)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}

	pdf := args[0]
	save := v.GetBool("save")
	enc := json.NewEncoder(cmd.OutOrStdout())
	saved := 0
	var saveErr error
	err = a.engine.Analyze(cmd.Context(), pdf, apiKey, func(ev model.AnalysisEvent) {
		_ = enc.Encode(events.Message{Topic: events.AnalysisTopic, Event: ev})
		if !save || ev.Type != model.EventProgress || saveErr != nil {
			return
		}
		n, err := saveDetected(a.store, pdf, ev.Questions)
		saved += n
		if err != nil {
			saveErr = err
		}
	})
	if err != nil {
		return fmt.Errorf("analyze %s: %w", pdf, err)
	}
	if saveErr != nil {
		return fmt.Errorf("save questions: %w", saveErr)
	}
	if save {
		slog.Info("saved detected questions", "pdf", pdf, "count", saved)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := loadQuestions(st, args)
	if err != nil {
		return fmt.Errorf("import questions: %w", err)
	}
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(v.GetString("lang")))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "QuestionsImported", n))
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
