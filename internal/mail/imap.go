package mail

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

const maxBodyLen = 2000

// IMAPConfig holds mailbox connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// Folders maps an inbox label (see Category.InboxLabel) to the mailbox
	// holding that kind of mail. Unmapped labels use Mailbox.
	Folders map[string]string
}

// session is the part of an IMAP client the fetcher uses.
type session interface {
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// IMAPFetcher fetches mail over IMAP. Fetch transfers headers, the body
// structure and one readable text part per message; attachment bytes stay on
// the server until Download is called for an item that survived filtering.
type IMAPFetcher struct {
	Config      IMAPConfig
	Attachments *AttachmentDir
	// HTMLToText converts text/html bodies when no text/plain part exists.
	HTMLToText func(string) string

	dial func(mailbox string) (session, error)
}

func NewIMAPFetcher(cfg IMAPConfig, attachments *AttachmentDir, htmlToText func(string) string) *IMAPFetcher {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	f := &IMAPFetcher{Config: cfg, Attachments: attachments, HTMLToText: htmlToText}
	f.dial = f.connect
	return f
}

func (f *IMAPFetcher) connect(mailbox string) (session, error) {
	addr := fmt.Sprintf("%s:%d", f.Config.Host, f.Config.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if err := c.Login(f.Config.Username, f.Config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if _, err := c.Select(mailbox, true); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}
	return c, nil
}

// mailbox picks the folder to search for a category.
func (f *IMAPFetcher) mailbox(c Category) string {
	if name := f.Config.Folders[c.InboxLabel()]; name != "" {
		return name
	}
	return f.Config.Mailbox
}

// textPart is the section of one message read as its body.
type textPart struct {
	uid  uint32
	path []int
	part *imap.BodyStructure
}

// Fetch lists messages in the query's date range, newest first, up to
// MaxResults. Items without attachments are dropped when the query requires
// them.
func (f *IMAPFetcher) Fetch(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mailbox := f.mailbox(q.Category)
	c, err := f.dial(mailbox)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.Since = q.From
	if !q.To.IsZero() {
		criteria.Before = q.To.AddDate(0, 0, 1)
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	slices.Sort(uids)
	if q.MaxResults > 0 && len(uids) > q.MaxResults {
		uids = uids[len(uids)-q.MaxResults:]
	}

	log.Printf("[Mail] Fetching %d messages from %s (%s .. %s)", len(uids), mailbox, q.From.Format("2006-01-02"), q.To.Format("2006-01-02"))

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	msgs, err := fetchAll(c, seqset, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchBodyStructure})
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(msgs, func(a, b *imap.Message) int { return cmp.Compare(b.Uid, a.Uid) })

	var out []Item
	index := make(map[uint32]int)
	groups := make(map[string][]textPart)
	for _, msg := range msgs {
		item := itemFromEnvelope(msg.Uid, msg.Envelope)
		item.Mailbox = mailbox
		text, atts := bodyParts(msg.BodyStructure)
		item.Attachments = atts
		if q.RequireAttachments && !item.HasAttachments() {
			continue
		}
		index[msg.Uid] = len(out)
		out = append(out, item)
		if text != nil {
			text.uid = msg.Uid
			key := fmt.Sprint(text.path)
			groups[key] = append(groups[key], *text)
		}
	}

	// one fetch per distinct text part path
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Path: group[0].path}, Peek: true}
		set := new(imap.SeqSet)
		parts := make(map[uint32]*imap.BodyStructure, len(group))
		for _, t := range group {
			set.AddNum(t.uid)
			parts[t.uid] = t.part
		}
		bodies, err := fetchAll(c, set, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
		if err != nil {
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		for _, msg := range bodies {
			i, ok := index[msg.Uid]
			lit := msg.GetBody(section)
			if !ok || lit == nil {
				continue
			}
			body, err := f.readText(lit, parts[msg.Uid])
			if err != nil {
				log.Printf("[Mail] Skipping body of message %d: %v", msg.Uid, err)
				continue
			}
			out[i].Body = body
		}
	}
	return out, nil
}

func fetchAll(c session, seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}
	return out, <-done
}

func itemFromEnvelope(uid uint32, env *imap.Envelope) Item {
	item := Item{ID: strconv.FormatUint(uint64(uid), 10), Subject: "No_Subject", Sender: "Unknown"}
	if env == nil {
		return item
	}
	if env.Subject != "" {
		item.Subject = env.Subject
	}
	item.Date = env.Date
	if len(env.From) > 0 && env.From[0] != nil {
		from := env.From[0]
		item.Sender = from.Address()
		if from.PersonalName != "" {
			item.Sender = fmt.Sprintf("%s <%s>", from.PersonalName, from.Address())
		}
	}
	return item
}

// bodyParts walks a message structure for the part to read as the body
// (text/plain preferred over text/html) and the supported attachments.
func bodyParts(bs *imap.BodyStructure) (*textPart, []Attachment) {
	if bs == nil {
		return nil, nil
	}
	var plain, html *textPart
	var atts []Attachment
	bs.Walk(func(path []int, p *imap.BodyStructure) bool {
		if strings.EqualFold(p.MIMEType, "multipart") {
			return true
		}
		name, _ := p.Filename()
		if strings.EqualFold(p.Disposition, "attachment") || name != "" {
			if name != "" && SupportedAttachment(name) {
				atts = append(atts, Attachment{
					Filename:    name,
					ContentType: strings.ToLower(p.MIMEType + "/" + p.MIMESubType),
					Path:        path,
					Encoding:    p.Encoding,
					Size:        p.Size,
				})
			}
			return false
		}
		if !strings.EqualFold(p.MIMEType, "text") {
			return false
		}
		switch {
		case strings.EqualFold(p.MIMESubType, "plain") && plain == nil:
			plain = &textPart{path: path, part: p}
		case strings.EqualFold(p.MIMESubType, "html") && html == nil:
			html = &textPart{path: path, part: p}
		}
		return false
	})
	if plain != nil {
		return plain, atts
	}
	return html, atts
}

// decodePart undoes the transfer encoding and, for text, the charset.
func decodePart(r io.Reader, contentType, encoding string) io.Reader {
	var h message.Header
	h.Set("Content-Type", contentType)
	if encoding != "" {
		h.Set("Content-Transfer-Encoding", encoding)
	}
	e, err := message.New(h, r)
	if err != nil {
		log.Printf("[Mail] Reading part as-is: %v", err)
	}
	return e.Body
}

func (f *IMAPFetcher) readText(r io.Reader, p *imap.BodyStructure) (string, error) {
	contentType := strings.ToLower(p.MIMEType + "/" + p.MIMESubType)
	full := contentType
	if cs := p.Params["charset"]; cs != "" {
		full += "; charset=" + cs
	}
	data, err := io.ReadAll(decodePart(r, full, p.Encoding))
	if err != nil {
		return "", err
	}

	body := string(data)
	if contentType == "text/html" && f.HTMLToText != nil {
		body = f.HTMLToText(body)
	}
	item := Item{Body: strings.TrimSpace(body)}
	return item.Preview(maxBodyLen), nil
}

// Download fetches one attachment section of item and writes it to the
// attachment directory.
func (f *IMAPFetcher) Download(ctx context.Context, item Item, att Attachment) (string, error) {
	uid, err := strconv.ParseUint(item.ID, 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid message id %q: %w", item.ID, err)
	}
	if len(att.Path) == 0 {
		return "", fmt.Errorf("attachment %s has no part path", att.Filename)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mailbox := item.Mailbox
	if mailbox == "" {
		mailbox = f.Config.Mailbox
	}
	c, err := f.dial(mailbox)
	if err != nil {
		return "", err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	section := &imap.BodySectionName{BodyPartName: imap.BodyPartName{Path: att.Path}, Peek: true}

	msgs, err := fetchAll(c, seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	for _, msg := range msgs {
		lit := msg.GetBody(section)
		if lit == nil {
			continue
		}
		return f.Attachments.Save(AttachmentName(item, att), decodePart(lit, att.ContentType, att.Encoding))
	}
	return "", fmt.Errorf("attachment %s not found in message %s", att.Filename, item.ID)
}
