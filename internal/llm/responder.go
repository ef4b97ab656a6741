package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/governance"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

const defaultResponderPrompt = `You are a helpful bill tracking assistant.
Provide clear, concise, and friendly answers based on the given context.
If bills were found, summarize them clearly with vendor, amount and due date.
If alternatives were found, present them with the likely savings.
If errors occurred, mention them politely.
Use the tools only when the context is not enough to answer.`

var ErrEmptyResponse = errors.New("model returned an empty response")

// HistoryReader supplies recent exchanges for a chat.
type HistoryReader interface {
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
}

// Responder writes the final answer for a run. It may call registry tools,
// each one checked against the policy first, for at most MaxSteps rounds.
type Responder struct {
	Model        llms.Model
	Registry     *tools.Registry
	Policy       governance.PolicyEngine
	History      HistoryReader
	Prompts      *PromptManager
	Logger       *observability.Logger
	MaxSteps     int
	HistoryLimit int
}

func NewResponder(model llms.Model, registry *tools.Registry, policy governance.PolicyEngine, history HistoryReader, prompts *PromptManager, logger *observability.Logger) *Responder {
	return &Responder{
		Model:        model,
		Registry:     registry,
		Policy:       policy,
		History:      history,
		Prompts:      prompts,
		Logger:       logger,
		MaxSteps:     3,
		HistoryLimit: 5,
	}
}

func (r *Responder) systemPrompt() string {
	if r.Prompts == nil {
		return defaultResponderPrompt
	}
	prompt, err := r.Prompts.GetSystemPrompt()
	if err != nil {
		log.Printf("Warning: Failed to load responder prompt: %v", err)
		return defaultResponderPrompt
	}
	return prompt
}

func (r *Responder) llmTools() []llms.Tool {
	var out []llms.Tool
	for _, t := range r.Registry.List() {
		out = append(out, functionTool(t.Name(), t.Description(), t.Parameters()))
	}
	return out
}

func (r *Responder) Respond(ctx context.Context, rc agent.ResponseContext) (string, error) {
	chatID := rc.Identity
	if chatID == "" {
		chatID = "local"
	}

	messages := []llms.MessageContent{system(r.systemPrompt())}
	if r.History != nil {
		history, err := r.History.GetHistory(chatID, r.HistoryLimit)
		if err != nil {
			log.Printf("[Responder] Failed to load history for %s: %v", chatID, err)
		}
		messages = append(messages, history...)
	}
	messages = append(messages, human(RenderContext(rc)))

	llmTools := r.llmTools()
	var opts []llms.CallOption
	if len(llmTools) > 0 {
		opts = append(opts, llms.WithTools(llmTools))
	}

	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}
	for i := 0; i < maxSteps; i++ {
		choice, err := r.generate(ctx, chatID, messages, opts...)
		if err != nil {
			return "", err
		}

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			return finalText(choice.Content)
		}

		for _, tc := range choice.ToolCalls {
			result := r.runTool(ctx, chatID, i+1, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}

	// Out of tool rounds: one last answer with tools withheld.
	messages = append(messages, human("Answer the request now with the information gathered so far."))
	choice, err := r.generate(ctx, chatID, messages)
	if err != nil {
		return "", err
	}
	return finalText(choice.Content)
}

func (r *Responder) generate(ctx context.Context, chatID string, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	resp, err := r.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	r.Logger.LogLLM(chatID, "", messages, choice.Content, choice.ToolCalls)
	logUsage(r.Logger, chatID, choice)
	return choice, nil
}

func (r *Responder) runTool(ctx context.Context, chatID string, step int, tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return "Error: malformed tool call"
	}
	name, args := tc.FunctionCall.Name, tc.FunctionCall.Arguments

	tool := r.Registry.Get(name)
	if tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	if r.Policy != nil {
		decision, err := r.Policy.Evaluate(ctx, governance.Request{Tool: name, Arguments: args, Identity: chatID})
		if err != nil {
			return fmt.Sprintf("Error: policy check failed: %v", err)
		}
		if !decision.Allowed() {
			log.Printf("[Responder] Tool %s denied: %s", name, decision.Reason)
			return "Denied: " + decision.Reason
		}
	}

	log.Printf("[Step %d] Executing tool %s with args: %s", step, name, args)
	r.Logger.LogToolCall(chatID, "", name, args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		res = fmt.Sprintf("Error: %v", err)
	}
	log.Printf("[Step %d] Tool %s returned %d bytes", step, name, len(res))
	return res
}

func finalText(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// RenderContext writes the run results as the user turn of the prompt.
func RenderContext(rc agent.ResponseContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Question: %s\n", rc.Query)
	fmt.Fprintf(&b, "Intent: %s\n", rc.Goal)
	if rc.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", rc.Category)
	}

	if len(rc.Items) > 0 {
		fmt.Fprintf(&b, "\nRelevant emails (%d):\n", len(rc.Items))
		for i, it := range rc.Items {
			if i == 20 {
				fmt.Fprintf(&b, "...and %d more\n", len(rc.Items)-20)
				break
			}
			fmt.Fprintf(&b, "- %s | %s | %s\n", it.Date.Format("2006-01-02"), it.Sender, it.Subject)
		}
	}
	if len(rc.Records) > 0 {
		fmt.Fprintf(&b, "\nExtracted records (%d):\n", len(rc.Records))
		for _, rec := range rc.Records {
			fmt.Fprintf(&b, "%s\n\n", rec.Describe())
		}
	}
	if len(rc.Retrieved) > 0 {
		fmt.Fprintf(&b, "\nStored documents (%d):\n", len(rc.Retrieved))
		for _, h := range rc.Retrieved {
			fmt.Fprintf(&b, "- (%.2f) %s\n", h.Score, truncate(strings.ReplaceAll(h.Text, "\n", " "), 300))
		}
	}
	if len(rc.WebResults) > 0 {
		fmt.Fprintf(&b, "\nWeb results (%d):\n", len(rc.WebResults))
		for _, w := range rc.WebResults {
			fmt.Fprintf(&b, "- %s (%s): %s\n", w.Title, w.URL, w.Snippet)
		}
	}
	if len(rc.Reminders) > 0 {
		fmt.Fprintf(&b, "\nReminders created (%d):\n", len(rc.Reminders))
		for _, rem := range rc.Reminders {
			fmt.Fprintf(&b, "- %s $%.2f due %s, remind on %s via %s\n", rem.Vendor, rem.Amount,
				rem.DueDate.Format("2006-01-02"), rem.RemindAt.Format("2006-01-02"), rem.Channel)
		}
	}
	if rc.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped %d bills without an upcoming due date.\n", rc.Skipped)
	}
	if len(rc.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors:\n- %s\n", strings.Join(rc.Errors, "\n- "))
	}
	b.WriteString("\nProvide a helpful response based on the context above.")
	return b.String()
}
