package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/calmsignal/calmsignal/server/internal/advisory"
	"github.com/calmsignal/calmsignal/server/internal/config"
)

const completionsPath = "/v1/chat/completions"

// ErrMissingCredential is returned by New when the configured key
// environment variable is unset or empty.
var ErrMissingCredential = errors.New("advisor: api key not set")

var errNoChoices = errors.New("advisor: response has no choices")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAI generates advisories through an OpenAI-compatible chat completions API.
//
// OpenAI is safe for concurrent use.
type OpenAI struct {
	client      *resty.Client
	model       string
	maxTokens   int
	temperature float64
}

var _ advisory.Generator = (*OpenAI)(nil)

// New builds a generator from cfg, reading the API key from cfg.KeyEnv.
func New(cfg config.GeneratorConfig) (*OpenAI, error) {
	key := cfg.Key()
	if key == "" {
		return nil, fmt.Errorf("%w (env %s)", ErrMissingCredential, cfg.KeyEnv)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(key).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &OpenAI{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Generate asks the model for advice on req. The caller bounds the call
// through ctx; there are no retries here.
func (o *OpenAI) Generate(ctx context.Context, req advisory.Request) (string, error) {
	body := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	var (
		out    chatResponse
		apiErr apiError
	)
	start := time.Now()
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(completionsPath)
	if err != nil {
		return "", fmt.Errorf("advisor: call %s: %w", completionsPath, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("advisor: %s returned %d: %s", completionsPath, resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", errNoChoices
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errNoChoices
	}
	slog.Debug("advisor: completion received",
		"subject", req.SubjectID,
		"model", o.model,
		"elapsed", time.Since(start),
	)
	return text, nil
}
