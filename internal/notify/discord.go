package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const discordMessageLimit = 2000

// DiscordSender posts to a Discord channel through the bot REST API. The
// recipient is the channel ID.
type DiscordSender struct {
	Session *discordgo.Session
}

func NewDiscordSender(token string) (*DiscordSender, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordSender{Session: s}, nil
}

func (d *DiscordSender) Send(ctx context.Context, recipient string, text string) error {
	if recipient == "" {
		return fmt.Errorf("missing discord channel id")
	}
	for _, chunk := range chunk(text, discordMessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.Session.ChannelMessageSend(recipient, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func chunk(text string, size int) []string {
	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}
	var out []string
	for len(r) > 0 {
		n := size
		if len(r) < n {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}
