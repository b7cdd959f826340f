package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/qbank/internal/llm/prompts"
	"github.com/pavelanni/qbank/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// maxImageBytes skips question images too large to inline.
const maxImageBytes = 8 << 20

// Client solves answer keys against an OpenAI-compatible API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. apiKey is used when a call supplies none.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

func (c *Client) api(apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = c.apiKey
	}
	config := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(config)
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api("").ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}

// Solve asks the model for an answer key of the questions, in order. The
// returned text is the model's JSON object.
func (c *Client) Solve(ctx context.Context, questions []model.SolverQuestion, apiKey string) (string, error) {
	prompt, err := prompts.BuildSolvePrompt(c.variant, questions)
	if err != nil {
		return "", fmt.Errorf("build solve prompt: %w", err)
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for i, q := range questions {
		if q.ImagePath == "" {
			continue
		}
		url, err := imageDataURL(q.ImagePath)
		if err != nil {
			slog.Warn("skipping question image", "question", i+1, "path", q.ImagePath, "error", err)
			continue
		}
		parts = append(parts,
			openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: fmt.Sprintf("Image for question %d:", i+1)},
			openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
			},
		)
	}

	resp, err := c.api(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	raw := stripCodeFence(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "raw", raw)

	var key model.AnswerKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if key.Error == "" && len(key.Answers) == 0 {
		return "", fmt.Errorf("LLM response has no answers (raw: %s)", raw)
	}
	return raw, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func imageDataURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image is %d bytes, limit %d", info.Size(), maxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
