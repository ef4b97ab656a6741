// Package llm holds the model-backed collaborators of the executor: the
// intent classifier, relevance scorer, field extractor and responder. All
// structured output is requested as a single function tool call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/billagent/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

var ErrNoToolCall = errors.New("model did not return a tool call")

func system(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

func human(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

func functionTool(name, description string, params map[string]any) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// callTool asks the model to answer through tool and returns the raw JSON
// arguments. A JSON object in plain content is accepted as a fallback.
func callTool(ctx context.Context, model llms.Model, logger *observability.Logger, chatID string, messages []llms.MessageContent, tool llms.Tool) (string, error) {
	resp, err := model.GenerateContent(ctx, messages, llms.WithTools([]llms.Tool{tool}))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty response", tool.Function.Name)
	}
	choice := resp.Choices[0]
	logger.LogLLM(chatID, "", messages, choice.Content, choice.ToolCalls)
	logUsage(logger, chatID, choice)

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == tool.Function.Name {
			return tc.FunctionCall.Arguments, nil
		}
	}
	if obj := jsonObject(choice.Content); obj != "" {
		return obj, nil
	}
	return "", fmt.Errorf("%s: %w", tool.Function.Name, ErrNoToolCall)
}

// jsonObject returns the outermost {...} span of s, tolerating code fences.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func logUsage(logger *observability.Logger, chatID string, choice *llms.ContentChoice) {
	if choice == nil || choice.GenerationInfo == nil {
		return
	}
	prompt := intInfo(choice.GenerationInfo, "PromptTokens")
	completion := intInfo(choice.GenerationInfo, "CompletionTokens")
	if prompt == 0 && completion == 0 {
		return
	}
	model, _ := choice.GenerationInfo["Model"].(string)
	logger.LogCost(chatID, "", prompt, completion, model)
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
