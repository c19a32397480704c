// Package assistant answers first-aid questions through an LLM and suggests
// likely follow-up replies.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

const predictionsDelimiter = "Predictions:"

const systemPrompt = `You are a first-aid and emergency-response assistant.
Only answer questions about first aid, medical emergencies and general health.
For anything else, reply that you can only help with first aid, medical emergencies and health topics.
For serious emergencies, tell the user to contact local emergency services immediately.
Use Markdown: bold for key warnings, numbered lists for steps.
After the answer, write the line "Predictions:" followed by four short likely replies from the user, one per line, each starting with "- ".`

const primerReply = "Understood. I will follow these guidelines."

type ChatRequest struct {
	Query string `json:"query"`
}

type ChatResponse struct {
	Response    string   `json:"response"`
	Predictions []string `json:"predictions"`
}

type Service struct {
	llm    Generator
	logger zerolog.Logger
}

func NewService(llm Generator, logger zerolog.Logger) *Service {
	return &Service{llm: llm, logger: logger.With().Str("component", "assistant").Logger()}
}

// Chat answers a single question.
func (s *Service) Chat(ctx context.Context, query string) (*ChatResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Please provide a valid question or description")
	}

	s.logger.Debug().Str("query", preview(query, 50)).Msg("processing assistant query")

	text, err := s.llm.Generate(ctx, []Content{
		{Role: "user", Parts: []Part{{Text: systemPrompt}}},
		{Role: "model", Parts: []Part{{Text: primerReply}}},
		{Role: "user", Parts: []Part{{Text: query}}},
	})
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return nil, apperr.Internal("server configuration error", err)
		}
		return nil, apperr.Internal("assistant generation failed", err)
	}

	answer, predictions := ParseReply(text)
	return &ChatResponse{Response: answer, Predictions: predictions}, nil
}

// ParseReply splits model output into the answer and the suggested replies
// listed after the predictions delimiter.
func ParseReply(text string) (string, []string) {
	idx := strings.Index(text, predictionsDelimiter)
	if idx < 0 {
		return strings.TrimSpace(text), []string{}
	}

	answer := strings.TrimSpace(text[:idx])
	predictions := []string{}
	for _, line := range strings.Split(text[idx+len(predictionsDelimiter):], "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "-*•"))
		line = strings.Trim(line, `"`)
		if line == "" || line == predictionsDelimiter {
			continue
		}
		predictions = append(predictions, line)
	}
	return answer, predictions
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
