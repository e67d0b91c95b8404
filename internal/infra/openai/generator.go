// Package openai generates question sets with a chat completion model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

const systemPrompt = "You write multiple-choice quiz questions. Reply with JSON only, no prose."

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Generator implements app.QuestionGenerator on top of the chat completions API.
type Generator struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

func NewGenerator(cfg Config, log zerolog.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    log.With().Str("component", "openai_generator").Logger(),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	g.log.Debug().Str("finish_reason", string(resp.Choices[0].FinishReason)).Int("tokens", resp.Usage.TotalTokens).Msg("questions generated")
	return ParseQuestions(resp.Choices[0].Message.Content)
}

// Prompt renders the user message for a generation request.
func Prompt(req app.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d multiple-choice questions about %q at %s difficulty.", req.Count, req.Topic, req.Difficulty)
	if req.Subtopic != "" {
		fmt.Fprintf(&b, " Focus on %q.", req.Subtopic)
	}
	if req.Instructions != "" {
		fmt.Fprintf(&b, " Additional instructions: %s", req.Instructions)
	}
	b.WriteString(` Each question has exactly 4 options and correctOption must repeat one option verbatim.`)
	b.WriteString(` Format: {"questions":[{"question":"...","options":["..."],"correctOption":"..."}]}`)
	return b.String()
}

type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption"`
}

// ParseQuestions decodes the model reply. Markdown fences around the JSON are tolerated;
// the caller still validates the set.
func ParseQuestions(content string) ([]domain.Question, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload struct {
		Questions []generatedQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode generated questions: %w", err)
	}
	out := make([]domain.Question, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		out = append(out, domain.Question{
			Text:          strings.TrimSpace(q.Question),
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
		})
	}
	return out, nil
}
