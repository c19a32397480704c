package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotConfigured = errors.New("gemini api key is not configured")

// Part, Content and the request/response types mirror the subset of the
// Gemini generateContent REST API that the assistant uses.
type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type generateRequest struct {
	Contents []Content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generator produces model text for a conversation.
type Generator interface {
	Generate(ctx context.Context, contents []Content) (string, error)
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// GeminiClient calls generateContent over REST.
type GeminiClient struct {
	http   *resty.Client
	apiKey string
	model  string
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &GeminiClient{http: client, apiKey: cfg.APIKey, model: cfg.Model}
}

func (c *GeminiClient) Generate(ctx context.Context, contents []Content) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	var result generateResponse
	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", c.apiKey).
		SetPathParam("model", c.model).
		SetBody(generateRequest{Contents: contents}).
		SetResult(&result).
		SetError(&failure).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode(), msg)
	}

	var b strings.Builder
	for _, cand := range result.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return b.String(), nil
}
