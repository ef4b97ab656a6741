package mail

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SupportedAttachment reports whether an attachment is worth downloading.
func SupportedAttachment(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".png", ".jpg", ".jpeg", ".doc", ".docx":
		return true
	}
	return false
}

func sanitize(s string, max int) string {
	safe := unsafeChars.ReplaceAllString(s, "")
	safe = spaceRuns.ReplaceAllString(strings.TrimSpace(safe), "_")
	if len(safe) > max {
		safe = safe[:max]
	}
	return safe
}

// AttachmentName builds 20240101_Sender_Subject.ext for an attachment.
func AttachmentName(item Item, att Attachment) string {
	date := item.Date
	if date.IsZero() {
		date = time.Now()
	}
	sender := item.Sender
	if i := strings.Index(sender, "<"); i >= 0 {
		sender = sender[:i]
	}
	return fmt.Sprintf("%s_%s_%s%s",
		date.Format("20060102"),
		sanitize(sender, 15),
		sanitize(item.Subject, 30),
		strings.ToLower(filepath.Ext(att.Filename)),
	)
}

// AttachmentDir writes attachments under a single root.
type AttachmentDir struct {
	Root string
}

func NewAttachmentDir(root string) *AttachmentDir {
	absRoot, _ := filepath.Abs(root)
	return &AttachmentDir{Root: absRoot}
}

// Save writes r under name, adding a numeric suffix when the name is taken.
func (d *AttachmentDir) Save(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(d.Root, 0755); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}

	target := filepath.Join(d.Root, name)
	rel, err := filepath.Rel(d.Root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("unsafe path attempt: %s", name)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(d.Root, fmt.Sprintf("%s_%d%s", base, n, ext))
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return target, nil
}
