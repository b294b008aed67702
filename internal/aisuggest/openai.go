package aisuggest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
)

// Provider is a generative model that answers a system+user prompt with text.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIConfig configures the chat completions provider.
type OpenAIConfig struct {
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url" validate:"omitempty,url"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `koanf:"max_tokens" validate:"gte=0"`
}

// DefaultOpenAIConfig returns gpt-4o at temperature 0.3.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4o",
		Temperature: 0.3,
		MaxTokens:   500,
	}
}

type openAIProvider struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewOpenAIProvider creates a provider for any OpenAI compatible endpoint.
// A missing API key is not an error here; every call then fails with an auth
// AIProviderError so the merge engine falls back.
func NewOpenAIProvider(cfg OpenAIConfig, httpClient *http.Client, log *logger.Logger) Provider {
	def := DefaultOpenAIConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &openAIProvider{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.With("client", "OpenAIChat"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openAIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", apperr.NewAIError(apperr.AIKindAuth, errors.New("missing OPENAI_API_KEY"))
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    p.cfg.Temperature,
		MaxTokens:      p.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", apperr.NewAIError(apperr.AIKindMalformed, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.NewAIError(apperr.AIKindTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.NewAIError(apperr.AIKindTimeout, err)
		}
		return "", apperr.NewAIError(apperr.AIKindTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.NewAIError(apperr.AIKindTimeout, err)
		}
		return "", apperr.NewAIError(apperr.AIKindTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := apperr.AIKindStatus
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = apperr.AIKindAuth
		}
		p.log.Warn("OpenAI returned non-2xx", "status", resp.StatusCode, "body", truncate(string(raw), 512))
		return "", &apperr.AIProviderError{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperr.NewAIError(apperr.AIKindMalformed, fmt.Errorf("decode envelope: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.NewAIError(apperr.AIKindMalformed, errors.New("response has no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
