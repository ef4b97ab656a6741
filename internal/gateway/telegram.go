package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/billagent/internal/notify"
)

const telegramMessageLimit = 4096

type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramGateway answers chat messages through the Runner and delivers
// outbound notifications to Telegram chats.
type TelegramGateway struct {
	Bot     telegramBot
	Runner  Runner
	History HistoryClearer
	// Allowed restricts which chats may talk to the agent; empty allows all.
	Allowed map[int64]bool
}

func NewTelegramGateway(token string, runner Runner, allowed []int64) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return newTelegramGateway(bot, runner, allowed), nil
}

func newTelegramGateway(bot telegramBot, runner Runner, allowed []int64) *TelegramGateway {
	tg := &TelegramGateway{Bot: bot, Runner: runner, Allowed: make(map[int64]bool)}
	for _, id := range allowed {
		tg.Allowed[id] = true
	}
	return tg
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			tg.handle(ctx, update)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	chat := update.Message.Chat.ID
	if len(tg.Allowed) > 0 && !tg.Allowed[chat] {
		log.Printf("[Telegram] Ignoring message from chat %d", chat)
		return
	}

	user := ""
	if update.Message.From != nil {
		user = update.Message.From.UserName
	}
	log.Printf("[%s] %s", user, update.Message.Text)

	chatID := strconv.FormatInt(chat, 10)
	response := Reply(ctx, tg.Runner, tg.History, notify.ChannelTelegram, chatID, update.Message.Text)
	if err := tg.Send(ctx, chatID, response); err != nil {
		log.Printf("[Telegram] Failed to reply to %s: %v", chatID, err)
	}
}

// Send delivers text to a chat, split to Telegram's message size. Markdown
// that Telegram rejects is resent as plain text.
func (tg *TelegramGateway) Send(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, part := range splitMessage(text, telegramMessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := tg.Bot.Send(msg); err != nil {
			msg.ParseMode = ""
			if _, err := tg.Bot.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

func splitMessage(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	var parts []string
	for len(r) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

var _ notify.Sender = (*TelegramGateway)(nil)
var _ Messenger = (*TelegramGateway)(nil)
