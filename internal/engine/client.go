package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/qbank/internal/model"
)

// APIKeyEnv is the environment variable the worker reads its AI credential from.
const APIKeyEnv = "GEMINI_API_KEY"

// Client speaks the worker's command-line protocol.
type Client struct {
	runner Runner
}

// New creates a client on top of r.
func New(r Runner) *Client {
	return &Client{runner: r}
}

func credentialEnv(apiKey string) []string {
	if apiKey == "" {
		return nil
	}
	return []string{APIKeyEnv + "=" + apiKey}
}

func (c *Client) run(ctx context.Context, args []string, apiKey string) ([]byte, error) {
	res, err := c.runner.Run(ctx, args, credentialEnv(apiKey))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &ExitError{Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return res.Stdout, nil
}

// Solve asks the worker for an answer key and returns its stdout verbatim.
func (c *Client) Solve(ctx context.Context, questions []model.SolverQuestion, apiKey string) (string, error) {
	payload, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	out, err := c.run(ctx, []string{"solve", "--questions", string(payload)}, apiKey)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AnalyzeTemplate detects the printable area of a template document.
func (c *Client) AnalyzeTemplate(ctx context.Context, pdfPath, apiKey string) (model.TemplateAnalysis, string, error) {
	var ta model.TemplateAnalysis
	out, err := c.run(ctx, []string{"analyze-template", pdfPath}, apiKey)
	if err != nil {
		return ta, "", err
	}
	raw := strings.TrimSpace(string(out))
	if err := json.Unmarshal([]byte(raw), &ta); err != nil {
		return ta, raw, fmt.Errorf("decode template analysis: %w", err)
	}
	return ta, raw, nil
}

// Export renders question images into a PDF at req.OutputPath.
func (c *Client) Export(ctx context.Context, req model.ExportRequest) (string, error) {
	if len(req.ImagePaths) == 0 {
		return "", fmt.Errorf("export: no images")
	}
	args := append([]string{"export", req.OutputPath, "--images"}, req.ImagePaths...)
	if req.TemplatePath != "" {
		args = append(args, "--template", req.TemplatePath)
	}
	if req.MarginsJSON != "" {
		args = append(args, "--margins", req.MarginsJSON)
	}
	out, err := c.run(ctx, args, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Analyze runs document analysis on a PDF and calls onEvent for every event
// the worker emits. A non-zero exit is reported after all events.
func (c *Client) Analyze(ctx context.Context, pdfPath, apiKey string, onEvent func(model.AnalysisEvent)) error {
	res, err := c.runner.Stream(ctx, []string{pdfPath}, credentialEnv(apiKey), func(line []byte) {
		onEvent(ParseEvent(line))
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}

// ParseEvent decodes one line of analysis output. Lines that are not
// events become log events carrying the raw text.
func ParseEvent(line []byte) model.AnalysisEvent {
	line = bytes.TrimSpace(line)
	var ev model.AnalysisEvent
	if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
		slog.Debug("non-event worker output", "line", string(line))
		return model.AnalysisEvent{Type: model.EventLog, Message: string(line)}
	}
	return ev
}
