package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Channel names an outbound notification channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelConsole  Channel = "console"
)

var ErrUnknownChannel = errors.New("unknown notification channel")

// ParseChannel normalises s; ok is false for unrecognised channels.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelEmail, ChannelTelegram, ChannelDiscord, ChannelConsole:
		return c, true
	}
	return "", false
}

// IsChat reports whether the channel is a chat-style messenger.
func (c Channel) IsChat() bool {
	return c == ChannelTelegram || c == ChannelDiscord
}

// Sender delivers a text message to one recipient on one channel.
type Sender interface {
	Send(ctx context.Context, recipient string, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient string, text string) error

func (f SenderFunc) Send(ctx context.Context, recipient string, text string) error {
	return f(ctx, recipient, text)
}

// Router sends through the sender registered for a channel.
type Router struct {
	mu      sync.RWMutex
	senders map[Channel]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[Channel]Sender)}
}

func (r *Router) Register(ch Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Has reports whether a sender is registered for ch.
func (r *Router) Has(ch Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[ch]
	return ok
}

func (r *Router) Send(ctx context.Context, ch Channel, recipient string, text string) error {
	r.mu.RLock()
	s, ok := r.senders[ch]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if err := s.Send(ctx, recipient, text); err != nil {
		return fmt.Errorf("%s send failed: %w", ch, err)
	}
	return nil
}

// ConsoleSender prints notifications, for local runs and testing.
type ConsoleSender struct {
	mu  sync.Mutex
	Out io.Writer
}

func NewConsoleSender(out io.Writer) *ConsoleSender {
	return &ConsoleSender{Out: out}
}

func (c *ConsoleSender) Send(ctx context.Context, recipient string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := strings.Repeat("=", 50)
	_, err := fmt.Fprintf(c.Out, "\n%s\n📨 %s\n%s\n%s\n%s\n", line, recipient, line, text, line)
	return err
}
