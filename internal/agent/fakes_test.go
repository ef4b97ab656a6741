package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/reminder"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeClassifier struct {
	out Classification
	err error
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	return f.out, f.err
}

type fakeFetcher struct {
	items      []mail.Item
	err        error
	fetches    int
	queries    []mail.Query
	downloads  []string
	downloadFn func(mail.Item, mail.Attachment) (string, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, q mail.Query) ([]mail.Item, error) {
	f.fetches++
	f.queries = append(f.queries, q)
	return f.items, f.err
}

func (f *fakeFetcher) Download(ctx context.Context, item mail.Item, att mail.Attachment) (string, error) {
	f.downloads = append(f.downloads, item.ID+"/"+att.Filename)
	if f.downloadFn != nil {
		return f.downloadFn(item, att)
	}
	return "/tmp/" + item.ID + "_" + att.Filename, nil
}

type fakeParser struct{}

func (fakeParser) Parse(ctx context.Context, path string) (ParsedDocument, error) {
	return ParsedDocument{Path: path, Text: "Invoice text for " + path, Pages: 1, Success: true}, nil
}

type fakeExtractor struct {
	texts   []string
	schemas []string
	fields  map[string]any
	err     error
	panics  bool
}

func (f *fakeExtractor) Extract(ctx context.Context, text, schema string) (Extraction, error) {
	if f.panics {
		panic("extractor exploded")
	}
	f.texts = append(f.texts, text)
	f.schemas = append(f.schemas, schema)
	if f.err != nil {
		return Extraction{}, f.err
	}
	return Extraction{Success: true, Fields: f.fields}, nil
}

type savedDoc struct {
	text string
	meta map[string]any
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []savedDoc
	hits    []SearchHit
	queries []string
	filters []map[string]any
	saveErr error
}

func (f *fakeStore) Save(ctx context.Context, text string, meta map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, savedDoc{text, meta})
	return fmt.Sprintf("doc-%d", len(f.saved)), nil
}

func (f *fakeStore) Search(ctx context.Context, query string, filters map[string]any, topK int) ([]SearchHit, error) {
	f.queries = append(f.queries, query)
	f.filters = append(f.filters, filters)
	return f.hits, nil
}

type fakeSearcher struct {
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	f.queries = append(f.queries, query)
	return []WebResult{{Title: "Cheaper TV", URL: "https://example.com/tv", Snippet: "save money"}}, nil
}

type fakeReminders struct {
	added []reminder.Reminder
}

func (f *fakeReminders) Add(ctx context.Context, r reminder.Reminder) (string, error) {
	f.added = append(f.added, r)
	return fmt.Sprintf("rem-%d", len(f.added)), nil
}

type fakeResponder struct {
	text string
	err  error
	seen []ResponseContext
}

func (f *fakeResponder) Respond(ctx context.Context, rc ResponseContext) (string, error) {
	f.seen = append(f.seen, rc)
	return f.text, f.err
}

type sentMessage struct {
	ch        notify.Channel
	recipient string
	text      string
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, ch notify.Channel, recipient, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{ch, recipient, text})
	return nil
}

type fakeHistory struct {
	messages []string
}

func (f *fakeHistory) AddMessage(chatID, role, content string) error {
	f.messages = append(f.messages, chatID+"|"+role+"|"+content)
	return nil
}

var errBoom = errors.New("boom")

func newTestExecutor(c Classification) (*Executor, *fakeResponder) {
	responder := &fakeResponder{text: "Here is what I found."}
	e := NewExecutor(&fakeClassifier{out: c}, responder, DefaultOptions(), observability.Discard())
	e.now = func() time.Time { return testNow }
	return e, responder
}
