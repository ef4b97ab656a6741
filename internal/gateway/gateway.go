package gateway

import (
	"context"
	"log"
	"strings"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/notify"
)

// Messenger defines the interface for chat gateways (Telegram, etc.)
type Messenger interface {
	// Start runs the message listening loop until ctx is done
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(ctx context.Context, chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// HistoryClearer forgets a chat's conversation history.
type HistoryClearer interface {
	ClearHistory(chatID string) error
}

// Runner executes one request. agent.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (agent.Outcome, error)
}

const helpText = `I track your bills from your mailbox.

Try:
- scan my bills from the last 30 days
- what bills are due this month?
- remind me 3 days before my bills are due
- find a cheaper alternative to Netflix
- add my water bill, $31.50 due June 20

/clear forgets our conversation so far.`

// Reply turns an incoming chat message into the text sent back. history may
// be nil, in which case /clear is refused.
func Reply(ctx context.Context, runner Runner, history HistoryClearer, origin notify.Channel, chatID string, text string) string {
	text = strings.TrimSpace(text)
	cmd, _, _ := strings.Cut(text, " ")
	switch strings.ToLower(cmd) {
	case "", "/start", "/help":
		return helpText
	case "/clear":
		if history == nil {
			return "History is not enabled."
		}
		if err := history.ClearHistory(chatID); err != nil {
			log.Printf("[Gateway] Clear history failed for %s: %v", chatID, err)
			return "I couldn't clear our conversation."
		}
		return "Conversation cleared."
	}

	out, err := runner.Run(ctx, agent.Request{Goal: text, Identity: chatID, Origin: origin})
	if err != nil {
		log.Printf("[Gateway] Run failed for %s: %v", chatID, err)
		return "I'm having trouble with that request right now..."
	}
	if strings.TrimSpace(out.Response) == "" {
		return "Done."
	}
	return out.Response
}
