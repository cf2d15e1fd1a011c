package llm

import (
	"context"
	"fmt"
	"strings"
)

// OpenAIProvider implements Provider against OpenAI's Responses API.
type OpenAIProvider struct {
	apiKey          string
	responsesClient *ResponsesClient
	model           string
	effort          string // reasoning effort: "low", "medium", "high", "xhigh", or ""
}

// parseModelEffort extracts effort suffix from model name
// "gpt-5.2-high" -> ("gpt-5.2", "high")
// "gpt-5.2-xhigh" -> ("gpt-5.2", "xhigh")
// "gpt-5.2" -> ("gpt-5.2", "")
func parseModelEffort(model string) (string, string) {
	// Check suffixes in order from longest to shortest to avoid "-high" matching "-xhigh"
	suffixes := []string{"xhigh", "medium", "high", "low"}
	for _, effort := range suffixes {
		suffix := "-" + effort
		if strings.HasSuffix(model, suffix) {
			return strings.TrimSuffix(model, suffix), effort
		}
	}
	return model, ""
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	actualModel, effort := parseModelEffort(model)
	return &OpenAIProvider{
		apiKey: apiKey,
		responsesClient: &ResponsesClient{
			BaseURL:       "https://api.openai.com/v1/responses",
			GetAuthHeader: func() string { return "Bearer " + apiKey },
		},
		model:  actualModel,
		effort: effort,
	}
}

func (p *OpenAIProvider) Name() string {
	if p.effort != "" {
		return fmt.Sprintf("OpenAI (%s, effort=%s)", p.model, p.effort)
	}
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Credential() string {
	return "api_key"
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		NativeWebSearch:    false,
		NativeWebFetch:     false,
		ToolCalls:          true,
		SupportsToolChoice: true,
	}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	responsesReq := ResponsesRequest{
		Model:           p.model,
		Input:           BuildResponsesInput(req.Messages),
		Tools:           BuildResponsesTools(req.Tools),
		ToolChoice:      BuildResponsesToolChoice(req.ToolChoice),
		MaxOutputTokens: req.MaxOutputTokens,
		Stream:          true,
		SessionID:       req.SessionID,
		PromptCacheKey:  req.SessionID,
	}
	if req.ParallelToolCalls {
		parallel := true
		responsesReq.ParallelToolCalls = &parallel
	}
	if p.effort != "" {
		responsesReq.Reasoning = &ResponsesReasoning{Effort: p.effort, Summary: "auto"}
	}
	return p.responsesClient.Stream(ctx, responsesReq, req.DebugRaw)
}
