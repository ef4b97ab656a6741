package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var errBoom = errors.New("boom")

// fakeModel replays canned responses and records every request.
type fakeModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	err       error
	calls     [][]llms.MessageContent
	opts      []llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.calls = append(f.calls, append([]llms.MessageContent(nil), messages...))
	f.opts = append(f.opts, opts)

	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return textResponse("done"), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func toolResponse(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_" + name,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

// lastText is the text of the final message in a request.
func lastText(messages []llms.MessageContent) string {
	if len(messages) == 0 {
		return ""
	}
	for _, p := range messages[len(messages)-1].Parts {
		if t, ok := p.(llms.TextContent); ok {
			return t.Text
		}
	}
	return ""
}
