package llm

import (
	"context"
	"strings"
)

const anthropicVersion = "2023-06-01"

type anthropicProvider struct {
	transport
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *anthropicProvider) Generate(ctx context.Context, prompt Prompt, model, apiKey string) (Response, error) {
	if err := p.requireKey(apiKey); err != nil {
		return Response{}, err
	}
	model = p.model(model)

	messages := make([]chatMessage, 0, len(prompt.Messages))
	for _, message := range prompt.Messages {
		messages = append(messages, chatMessage{Role: string(message.Role), Content: message.Content})
	}

	var parsed anthropicResponse
	err := p.post(ctx, "/v1/messages", map[string]string{
		"x-api-key":         strings.TrimSpace(apiKey),
		"anthropic-version": anthropicVersion,
	}, anthropicRequest{
		Model:       model,
		System:      prompt.System,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}, &parsed)
	if err != nil {
		return Response{}, err
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" || block.Type == "" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, malformed(p.id, "no text content blocks", nil)
	}
	if parsed.Model != "" {
		model = parsed.Model
	}
	return Response{
		Text:         text.String(),
		Model:        model,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
