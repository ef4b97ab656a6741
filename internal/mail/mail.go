package mail

import (
	"context"
	"time"
)

// Attachment is attachment metadata as listed by the mailbox. Content is only
// fetched on Download, after relevance filtering.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	// Path is the IMAP body part path, e.g. [2] or [1 2].
	Path     []int  `json:"path,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Size     uint32 `json:"size,omitempty"`
}

// Item is a fetched message.
type Item struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Date        time.Time    `json:"date"`
	Body        string       `json:"body"`
	Mailbox     string       `json:"mailbox,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HasAttachments reports whether the item lists at least one attachment.
func (i Item) HasAttachments() bool {
	return len(i.Attachments) > 0
}

// Preview returns the first n runes of the body.
func (i Item) Preview(n int) string {
	r := []rune(i.Body)
	if len(r) <= n {
		return i.Body
	}
	return string(r[:n])
}

// Query describes what to fetch.
type Query struct {
	From               time.Time
	To                 time.Time
	Category           Category
	RequireAttachments bool
	MaxResults         int
}

// Fetcher lists messages and downloads their attachments.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]Item, error)
	Download(ctx context.Context, item Item, att Attachment) (string, error)
}
