package llm

import (
	"context"
	"testing"
	"time"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/governance"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/reminder"
	"github.com/rahul/billagent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type echoTool struct {
	inputs []string
}

func (e *echoTool) Name() string               { return "rag" }
func (e *echoTool) Description() string        { return "echo" }
func (e *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Execute(ctx context.Context, input string) (string, error) {
	e.inputs = append(e.inputs, input)
	return "stored: Netflix $15.49", nil
}

type fakeHistory struct {
	chatID string
	limit  int
}

func (h *fakeHistory) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	h.chatID, h.limit = chatID, limit
	return []llms.MessageContent{human("earlier question")}, nil
}

func toolResult(t *testing.T, messages []llms.MessageContent) llms.ToolCallResponse {
	t.Helper()
	last := messages[len(messages)-1]
	require.Equal(t, llms.ChatMessageTypeTool, last.Role)
	resp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	return resp
}

func TestResponder_DirectAnswer(t *testing.T) {
	m := &fakeModel{responses: []*llms.ContentResponse{textResponse("  You have 2 bills due.  ")}}
	h := &fakeHistory{}
	r := NewResponder(m, nil, nil, h, nil, nil)

	out, err := r.Respond(context.Background(), agent.ResponseContext{Query: "what is due?", Goal: agent.GoalQueryHistory, Identity: "42"})
	require.NoError(t, err)
	assert.Equal(t, "You have 2 bills due.", out)

	assert.Equal(t, "42", h.chatID)
	assert.Equal(t, 5, h.limit)
	require.Len(t, m.calls, 1)
	msgs := m.calls[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, "earlier question", lastText(msgs[1:2]))
	assert.Contains(t, lastText(msgs), "User Question: what is due?")
	assert.Empty(t, m.opts[0].Tools)
}

func TestResponder_RunsToolThenAnswers(t *testing.T) {
	tool := &echoTool{}
	m := &fakeModel{responses: []*llms.ContentResponse{
		toolResponse("rag", `{"query":"netflix"}`),
		textResponse("Netflix costs $15.49."),
	}}
	r := NewResponder(m, tools.NewRegistry(tool), governance.NewToolCallPolicy(), nil, nil, nil)

	out, err := r.Respond(context.Background(), agent.ResponseContext{Query: "how much is netflix"})
	require.NoError(t, err)
	assert.Equal(t, "Netflix costs $15.49.", out)
	assert.Equal(t, []string{`{"query":"netflix"}`}, tool.inputs)

	require.Len(t, m.calls, 2)
	res := toolResult(t, m.calls[1])
	assert.Equal(t, "call_rag", res.ToolCallID)
	assert.Equal(t, "stored: Netflix $15.49", res.Content)
	require.Len(t, m.opts[0].Tools, 1)
	assert.Equal(t, "rag", m.opts[0].Tools[0].Function.Name)
}

func TestResponder_PolicyDeniesTool(t *testing.T) {
	tool := &echoTool{}
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("rag")
	m := &fakeModel{responses: []*llms.ContentResponse{
		toolResponse("rag", `{"query":"x"}`),
		textResponse("I could not look that up."),
	}}
	r := NewResponder(m, tools.NewRegistry(tool), policy, nil, nil, nil)

	_, err := r.Respond(context.Background(), agent.ResponseContext{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, tool.inputs)
	assert.Contains(t, toolResult(t, m.calls[1]).Content, "Denied:")
}

func TestResponder_UnknownTool(t *testing.T) {
	m := &fakeModel{responses: []*llms.ContentResponse{
		toolResponse("shell", `{}`),
		textResponse("ok"),
	}}
	r := NewResponder(m, tools.NewRegistry(&echoTool{}), nil, nil, nil, nil)

	_, err := r.Respond(context.Background(), agent.ResponseContext{Query: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Error: Tool shell not found", toolResult(t, m.calls[1]).Content)
}

func TestResponder_BoundedToolRounds(t *testing.T) {
	tool := &echoTool{}
	m := &fakeModel{responses: []*llms.ContentResponse{
		toolResponse("rag", `{"query":"1"}`),
		toolResponse("rag", `{"query":"2"}`),
		toolResponse("rag", `{"query":"3"}`),
		textResponse("Final answer."),
	}}
	r := NewResponder(m, tools.NewRegistry(tool), nil, nil, nil, nil)

	out, err := r.Respond(context.Background(), agent.ResponseContext{Query: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Final answer.", out)
	assert.Len(t, tool.inputs, 3)
	require.Len(t, m.calls, 4)
	assert.Empty(t, m.opts[3].Tools)
}

func TestResponder_EmptyAnswerIsError(t *testing.T) {
	m := &fakeModel{responses: []*llms.ContentResponse{textResponse("")}}
	_, err := NewResponder(m, nil, nil, nil, nil, nil).Respond(context.Background(), agent.ResponseContext{Query: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRenderContext(t *testing.T) {
	due := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	rc := agent.ResponseContext{
		Query:    "scan my bills",
		Goal:     agent.GoalScanBills,
		Category: mail.CategoryBills,
		Items:    []mail.Item{{ID: "1", Subject: "Power bill", Sender: "power@example.com", Date: due.AddDate(0, 0, -10)}},
		Records: []agent.Record{{
			Source: "power.pdf", Schema: "bill",
			Fields: map[string]any{"vendor": "City Power", "amount": 84.12, "due_date": "2024-06-20"},
		}},
		WebResults: []agent.WebResult{{Title: "Cheaper power", URL: "https://example.com", Snippet: "save"}},
		Reminders: []reminder.Reminder{{
			Vendor: "City Power", Amount: 84.12, DueDate: due,
			RemindAt: due.AddDate(0, 0, -3), Channel: notify.ChannelEmail,
		}},
		Skipped: 1,
		Errors:  []string{"fetch: timeout"},
	}

	out := RenderContext(rc)
	for _, want := range []string{
		"User Question: scan my bills",
		"Intent: scan_bills",
		"Category: bills",
		"2024-06-10 | power@example.com | Power bill",
		"bill record from City Power",
		"Cheaper power (https://example.com): save",
		"City Power $84.12 due 2024-06-20, remind on 2024-06-17 via email",
		"Skipped 1 bills",
		"- fetch: timeout",
	} {
		assert.Contains(t, out, want)
	}
}
