package llm

import (
	"context"
	"strings"
)

type cohereProvider struct {
	transport
}

type cohereTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereRequest struct {
	Model       string       `json:"model"`
	Message     string       `json:"message"`
	ChatHistory []cohereTurn `json:"chat_history,omitempty"`
	Preamble    string       `json:"preamble,omitempty"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type cohereResponse struct {
	Text string `json:"text"`
	Meta struct {
		BilledUnits struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Generate sends the last user message as message and everything before it
// as chat_history.
func (p *cohereProvider) Generate(ctx context.Context, prompt Prompt, model, apiKey string) (Response, error) {
	if err := p.requireKey(apiKey); err != nil {
		return Response{}, err
	}
	model = p.model(model)

	request := cohereRequest{
		Model:       model,
		Preamble:    prompt.System,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	last := len(prompt.Messages) - 1
	for i, message := range prompt.Messages {
		if i == last && message.Role == RoleUser {
			request.Message = message.Content
			continue
		}
		request.ChatHistory = append(request.ChatHistory, cohereTurn{Role: cohereRole(message.Role), Message: message.Content})
	}
	if request.Message == "" {
		return Response{}, &ProviderError{Provider: p.id, Kind: KindInvalidRequest, Message: "prompt must end with a user message"}
	}

	var parsed cohereResponse
	err := p.post(ctx, "/v1/chat", map[string]string{"Authorization": "Bearer " + strings.TrimSpace(apiKey)}, request, &parsed)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return Response{}, malformed(p.id, "empty text", nil)
	}
	return Response{
		Text:         parsed.Text,
		Model:        model,
		InputTokens:  parsed.Meta.BilledUnits.InputTokens,
		OutputTokens: parsed.Meta.BilledUnits.OutputTokens,
	}, nil
}

func cohereRole(role Role) string {
	switch role {
	case RoleAssistant:
		return "CHATBOT"
	case RoleUser:
		return "USER"
	default:
		return "SYSTEM"
	}
}
