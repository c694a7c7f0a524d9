package llm

import (
	"context"
	"strings"
)

var chatCompletionsPaths = map[ID]string{
	OpenAI: "/v1/chat/completions",
	Groq:   "/v1/chat/completions",
	XAI:    "/v1/chat/completions",
	Qwen:   "/v1/chat/completions",
	ZAI:    "/v1/chat/completions",
}

// chatCompletionsProvider speaks the OpenAI chat completions protocol.
// OpenAI, Groq, xAI, Qwen and z.ai differ only in endpoint and model.
type chatCompletionsProvider struct {
	transport
	path string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *chatCompletionsProvider) Generate(ctx context.Context, prompt Prompt, model, apiKey string) (Response, error) {
	if err := p.requireKey(apiKey); err != nil {
		return Response{}, err
	}
	model = p.model(model)

	var parsed chatCompletionsResponse
	err := p.post(ctx, p.path, map[string]string{"Authorization": "Bearer " + strings.TrimSpace(apiKey)},
		chatCompletionsRequest{
			Model:       model,
			Messages:    chatMessages(prompt),
			Temperature: p.temperature,
			MaxTokens:   p.maxTokens,
		}, &parsed)
	if err != nil {
		return Response{}, err
	}
	return completionResponse(p.id, model, parsed)
}

func chatMessages(prompt Prompt) []chatMessage {
	messages := make([]chatMessage, 0, len(prompt.Messages)+1)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	for _, message := range prompt.Messages {
		messages = append(messages, chatMessage{Role: string(message.Role), Content: message.Content})
	}
	return messages
}

func completionResponse(id ID, model string, parsed chatCompletionsResponse) (Response, error) {
	if len(parsed.Choices) == 0 {
		return Response{}, malformed(id, "empty chat completion choices", nil)
	}
	text := parsed.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Response{}, malformed(id, "empty completion text", nil)
	}
	if parsed.Model != "" {
		model = parsed.Model
	}
	return Response{
		Text:         text,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
