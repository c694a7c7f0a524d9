package llm

import (
	"context"
	"fmt"
	"strings"
)

type minimaxProvider struct {
	transport
}

type minimaxResponse struct {
	chatCompletionsResponse
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// Minimax answers HTTP 200 for most failures and reports them in base_resp.
func (p *minimaxProvider) Generate(ctx context.Context, prompt Prompt, model, apiKey string) (Response, error) {
	if err := p.requireKey(apiKey); err != nil {
		return Response{}, err
	}
	model = p.model(model)

	var parsed minimaxResponse
	err := p.post(ctx, "/v1/text/chatcompletion_v2", map[string]string{"Authorization": "Bearer " + strings.TrimSpace(apiKey)},
		chatCompletionsRequest{
			Model:       model,
			Messages:    chatMessages(prompt),
			Temperature: p.temperature,
			MaxTokens:   p.maxTokens,
		}, &parsed)
	if err != nil {
		return Response{}, err
	}
	if code := parsed.BaseResp.StatusCode; code != 0 {
		return Response{}, &ProviderError{
			Provider: p.id,
			Kind:     minimaxKind(code),
			Message:  fmt.Sprintf("base_resp %d: %s", code, parsed.BaseResp.StatusMsg),
		}
	}
	return completionResponse(p.id, model, parsed.chatCompletionsResponse)
}

// Status codes from the Minimax API reference.
func minimaxKind(code int) ErrorKind {
	switch code {
	case 1004, 2049:
		return KindAuth
	case 1002, 1039:
		return KindRateLimited
	case 1000, 1001, 1024, 1033:
		return KindTransient
	default:
		return KindInvalidRequest
	}
}
