package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/relevance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scorerFunc func(ctx context.Context, goal string, items []mail.Item) (map[int]relevance.Evaluation, error)

func (f scorerFunc) ScoreBatch(ctx context.Context, goal string, items []mail.Item) (map[int]relevance.Evaluation, error) {
	return f(ctx, goal, items)
}

func TestRun_ScanBills(t *testing.T) {
	e, responder := newTestExecutor(Classification{
		Goal:       GoalScanBills,
		Confidence: 0.92,
		Params:     map[string]any{"email_scan_type": "bills"},
	})
	fetcher := &fakeFetcher{items: []mail.Item{
		{ID: "1", Subject: "Your Netflix invoice", Sender: "billing@netflix.com", Body: "Amount due $15.49",
			Attachments: []mail.Attachment{{Filename: "invoice.pdf", Path: []int{2}}}},
		{ID: "2", Subject: "Electricity statement", Sender: "power@example.com",
			Attachments: []mail.Attachment{{Filename: "statement.pdf", Path: []int{2}}, {Filename: "logo.gif", Path: []int{3}}}},
		{ID: "3", Subject: "Weekend plans", Sender: "friend@example.com"},
	}}
	var scored []string
	e.Fetcher = fetcher
	e.Filter = relevance.NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]relevance.Evaluation, error) {
		for _, it := range batch {
			scored = append(scored, it.ID)
		}
		return map[int]relevance.Evaluation{
			0: {IsRelevant: true, Score: 0.9, Reason: "netflix bill"},
			1: {IsRelevant: false, Score: 0.2, Reason: "not requested"},
		}, nil
	}), observability.Discard())
	e.Parser = fakeParser{}
	extractor := &fakeExtractor{fields: map[string]any{"vendor": "Netflix", "amount": 15.49, "due_date": "2024-06-10"}}
	e.Extractor = extractor
	store := &fakeStore{}
	e.Store = store
	history := &fakeHistory{}
	e.History = history

	out, err := e.Run(context.Background(), Request{Goal: "scan my bills", Identity: "chat-1"})
	require.NoError(t, err)

	assert.Equal(t, GoalScanBills, out.Goal)
	assert.Equal(t, 0.92, out.Confidence)
	assert.Equal(t, []string{"fetch", "parse-documents", "extract", "persist", "respond"}, out.Plan)
	assert.Equal(t, []string{"classify", "plan", "fetch", "parse-documents", "extract", "persist", "respond"}, out.Completed)
	assert.Empty(t, out.Errors)
	assert.Equal(t, "Here is what I found.", out.Response)

	require.Len(t, fetcher.queries, 1)
	q := fetcher.queries[0]
	assert.Equal(t, mail.CategoryBills, q.Category)
	assert.True(t, q.RequireAttachments)
	assert.Equal(t, testNow.AddDate(0, 0, -30), q.From)

	// the lexical stage dropped item 3, the scorer dropped item 2
	assert.Equal(t, []string{"1", "2"}, scored)
	assert.Equal(t, []string{"1/invoice.pdf"}, fetcher.downloads)

	require.Len(t, extractor.texts, 1, "item 1 is covered by its parsed attachment")
	assert.Equal(t, "Invoice text for /tmp/1_invoice.pdf", extractor.texts[0])
	assert.Equal(t, []string{"bill"}, extractor.schemas)

	require.Len(t, store.saved, 3)
	assert.Equal(t, "record", store.saved[0].meta["type"])
	assert.Equal(t, "Netflix", store.saved[0].meta["vendor"])
	assert.Equal(t, "email", store.saved[1].meta["type"])
	assert.Equal(t, "document", store.saved[2].meta["type"])
	assert.Equal(t, 1, out.Items)
	assert.Equal(t, 3, out.Saved)

	require.Len(t, responder.seen, 1)
	assert.Len(t, responder.seen[0].Records, 1)
	assert.Equal(t, []string{"chat-1|human|scan my bills", "chat-1|ai|Here is what I found."}, history.messages)

	for _, tool := range []string{"classifier", "mail.fetch", "relevance", "mail.download", "document.parse", "extractor", "store.save", "responder"} {
		assert.Contains(t, out.Tools, tool)
	}
}

func TestRun_NonAttachmentScanExtractsBodies(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalScanEmails, Params: map[string]any{"scan_type": "promotions"}})
	e.Fetcher = &fakeFetcher{items: []mail.Item{
		{ID: "p1", Subject: "50% off shoes", Sender: "deals@shop.com", Body: "Use code SAVE50"},
	}}
	extractor := &fakeExtractor{fields: map[string]any{"store": "Shop", "discount": "50%"}}
	e.Extractor = extractor
	e.Store = &fakeStore{}

	out, err := e.Run(context.Background(), Request{Goal: "find shoe promotions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "extract", "persist", "respond"}, out.Plan)
	require.Len(t, extractor.texts, 1)
	assert.Contains(t, extractor.texts[0], "Use code SAVE50")
	assert.Equal(t, []string{"promotion"}, extractor.schemas)
}

func TestRun_UnknownGoalRoutesToErrorWithoutPlanning(t *testing.T) {
	e, responder := newTestExecutor(Classification{Goal: GoalUnknown})

	out, err := e.Run(context.Background(), Request{Goal: "asdf qwer"})
	require.NoError(t, err)

	assert.Equal(t, GoalUnknown, out.Goal)
	assert.Empty(t, out.Plan)
	assert.Equal(t, []string{"classify", "error"}, out.Completed)
	assert.Equal(t, "Errors encountered: classify: could not understand the request", out.Response)
	assert.Empty(t, responder.seen)
}

func TestRun_ClassifierErrorRoutesToError(t *testing.T) {
	e, _ := newTestExecutor(Classification{})
	e.Classifier = &fakeClassifier{err: errBoom}

	out, err := e.Run(context.Background(), Request{Goal: "scan my bills"})
	require.NoError(t, err)
	assert.Equal(t, []string{"classify", "error"}, out.Completed)
	assert.Contains(t, out.Response, "classification failed: boom")
}

func TestRun_StepFailureDoesNotHaltRun(t *testing.T) {
	e, responder := newTestExecutor(Classification{Goal: GoalScanEmails})
	e.Fetcher = &fakeFetcher{err: errBoom}
	e.Extractor = &fakeExtractor{}
	e.Store = &fakeStore{}

	out, err := e.Run(context.Background(), Request{Goal: "scan my emails"})
	require.NoError(t, err)

	assert.Equal(t, []string{"classify", "plan", "fetch", "extract", "persist", "respond"}, out.Completed)
	assert.Equal(t, []string{"fetch: mail fetch failed: boom"}, out.Errors)
	assert.Equal(t, "Here is what I found.\n\nErrors encountered:\n- fetch: mail fetch failed: boom", out.Response)
	require.Len(t, responder.seen, 1)
	assert.Len(t, responder.seen[0].Errors, 1)
}

func TestRun_ResponderFailureFallsBackToSummary(t *testing.T) {
	e, responder := newTestExecutor(Classification{Goal: GoalQueryHistory})
	responder.err = errBoom
	e.Store = &fakeStore{hits: []SearchHit{{ID: "d1", Metadata: map[string]any{"subject": "Gas bill"}, Score: 0.8}}}

	out, err := e.Run(context.Background(), Request{Goal: "what did I pay for gas"})
	require.NoError(t, err)
	assert.Contains(t, out.Response, "Found 1 matching documents.")
	assert.Contains(t, out.Response, "- Gas bill (0.80)")
	assert.Contains(t, out.Response, "respond: response generation failed: boom")
}

func TestRun_PanicRoutesToErrorTerminal(t *testing.T) {
	e, responder := newTestExecutor(Classification{Goal: GoalManualAdd})
	e.Extractor = &fakeExtractor{panics: true}
	store := &fakeStore{}
	e.Store = store

	out, err := e.Run(context.Background(), Request{Goal: "add my gym bill of $30"})
	require.NoError(t, err)

	assert.Equal(t, []string{"classify", "plan", "extract", "error"}, out.Completed)
	assert.Equal(t, "Errors encountered: extract: internal error: extractor exploded", out.Response)
	assert.Empty(t, store.saved)
	assert.Empty(t, responder.seen)
}

func TestRun_ManualAdd(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalManualAdd})
	extractor := &fakeExtractor{fields: map[string]any{"vendor": "City Water", "amount": 40.0, "due_date": "2024-06-15"}}
	e.Extractor = extractor
	store := &fakeStore{}
	e.Store = store

	goal := "Add my water bill of $40 due 2024-06-15"
	out, err := e.Run(context.Background(), Request{Goal: goal})
	require.NoError(t, err)

	assert.Equal(t, []string{goal}, extractor.texts)
	assert.Equal(t, []string{"bill"}, extractor.schemas)
	require.Len(t, store.saved, 1)
	meta := store.saved[0].meta
	assert.Equal(t, "City Water", meta["vendor"])
	assert.Equal(t, 40.0, meta["amount"])
	assert.Equal(t, "2024-06-15", meta["due_date"])
	assert.Equal(t, "manual", meta["source"])
	assert.Equal(t, 1, out.Saved)
}

func TestRun_SetReminder(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalSetReminder})
	store := &fakeStore{hits: []SearchHit{
		{ID: "h1", Metadata: map[string]any{"type": "record", "vendor": "Acme Power", "amount": 80.0, "due_date": "2024-06-20"}},
		{ID: "h2", Metadata: map[string]any{"type": "record", "vendor": "Old Bill", "due_date": "2024-05-01"}},
		{ID: "h3", Metadata: map[string]any{"type": "record", "vendor": "No Date"}},
	}}
	e.Store = store
	reminders := &fakeReminders{}
	e.Reminders = reminders
	e.Options.Recipients = map[notify.Channel]string{notify.ChannelEmail: "me@example.com"}

	out, err := e.Run(context.Background(), Request{Goal: "remind me about my bills"})
	require.NoError(t, err)

	assert.Equal(t, []string{"upcoming bills due dates payments"}, store.queries)
	assert.Equal(t, map[string]any{"type": "record"}, store.filters[0])

	require.Len(t, reminders.added, 2)
	for _, r := range reminders.added {
		assert.Equal(t, "Acme Power", r.Vendor)
		assert.Equal(t, 80.0, r.Amount)
		assert.Equal(t, notify.ChannelEmail, r.Channel)
		assert.Equal(t, "me@example.com", r.Recipient)
		assert.Equal(t, "h1", r.BillID)
	}
	assert.Equal(t, 3, reminders.added[0].DaysBefore)
	assert.Equal(t, 2, out.Reminders)
	assert.Empty(t, out.Errors)
}

func TestRun_SetReminderWithoutRecipientWarns(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalSetReminder, Params: map[string]any{"notification_channel": "telegram", "days_before": []any{2.0}}})
	e.Store = &fakeStore{hits: []SearchHit{{ID: "h1", Metadata: map[string]any{"vendor": "Acme", "due_date": "2024-06-20"}}}}
	reminders := &fakeReminders{}
	e.Reminders = reminders

	out, err := e.Run(context.Background(), Request{Goal: "remind me on telegram"})
	require.NoError(t, err)
	require.Len(t, reminders.added, 1)
	assert.Equal(t, 2, reminders.added[0].DaysBefore)
	assert.Equal(t, notify.ChannelTelegram, reminders.added[0].Channel)
	assert.Equal(t, []string{"create-reminders: no telegram recipient configured, reminders cannot be delivered"}, out.Errors)
}

func TestRun_FindAlternatives(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalFindAlternatives, Params: map[string]any{"vendor": "Comcast"}})
	store := &fakeStore{}
	e.Store = store
	searcher := &fakeSearcher{}
	e.Search = searcher

	out, err := e.Run(context.Background(), Request{Goal: "is there anything cheaper than comcast"})
	require.NoError(t, err)

	assert.Equal(t, []string{"recurring Comcast subscription bill"}, store.queries)
	assert.Equal(t, map[string]any{"vendor": "Comcast"}, store.filters[0])
	assert.Equal(t, []string{"cheaper alternative to Comcast comparison pricing"}, searcher.queries)
	assert.Equal(t, []string{"query-store", "web-search", "respond"}, out.Plan)
}

func TestRun_VendorFromRetrievedRecords(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalFindAlternatives})
	e.Store = &fakeStore{hits: []SearchHit{{ID: "h1", Metadata: map[string]any{"vendor": "Spotify"}}}}
	searcher := &fakeSearcher{}
	e.Search = searcher

	_, err := e.Run(context.Background(), Request{Goal: "find me cheaper options"})
	require.NoError(t, err)
	assert.Equal(t, []string{AlternativesQuery("Spotify")}, searcher.queries)
}

func TestRun_MissingCollaboratorsAreRecorded(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalQueryHistory})
	out, err := e.Run(context.Background(), Request{Goal: "what bills did I get"})
	require.NoError(t, err)
	assert.Equal(t, []string{"classify", "plan", "retrieve", "respond"}, out.Completed)
	assert.Equal(t, []string{"retrieve: no document store configured"}, out.Errors)
}

func TestRun_EmptyGoal(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalQueryHistory})
	_, err := e.Run(context.Background(), Request{Goal: "   "})
	assert.ErrorIs(t, err, ErrEmptyGoal)
}

func TestRun_CancelledContext(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: GoalQueryHistory})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, Request{Goal: "anything"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExec_NeverReentersCompletedStep(t *testing.T) {
	e, _ := newTestExecutor(Classification{})
	fetcher := &fakeFetcher{}
	e.Fetcher = fetcher
	st, err := NewRunState("scan", "", "")
	require.NoError(t, err)

	e.exec(context.Background(), st, StepFetch)
	e.exec(context.Background(), st, StepFetch)

	assert.Equal(t, 1, fetcher.fetches)
	assert.Equal(t, []Step{StepFetch}, st.Completed.Entries())
}

func TestExec_LogsAreMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("errors, completed steps and tool usage only grow", prop.ForAll(
		func(raw []uint8) bool {
			e, responder := newTestExecutor(Classification{Goal: GoalScanBills})
			responder.err = errBoom
			e.Fetcher = &fakeFetcher{items: []mail.Item{{ID: "1", Subject: "bill", Body: "x",
				Attachments: []mail.Attachment{{Filename: "a.pdf"}}}},
				downloadFn: func(mail.Item, mail.Attachment) (string, error) { return "", errBoom }}
			e.Extractor = &fakeExtractor{err: errBoom}
			e.Store = &fakeStore{saveErr: errBoom}
			st, _ := NewRunState("scan my bills", "", "")

			for _, r := range raw {
				errs, done, tools := st.Errors.Len(), st.Completed.Len(), st.Tools.Len()
				e.exec(context.Background(), st, Step(r))
				if st.Errors.Len() < errs || st.Completed.Len() < done || st.Tools.Len() < tools {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(uint8(StepFetch), uint8(StepError))),
	))

	properties.TestingRun(t)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No results found for your request.", Summarize(ResponseContext{}))

	rc := ResponseContext{Category: mail.CategoryBills, Skipped: 1}
	for i := 0; i < 7; i++ {
		rc.Records = append(rc.Records, Record{Source: fmt.Sprint(i), Fields: map[string]any{"vendor": fmt.Sprintf("V%d", i), "amount": 1.5}})
	}
	text := Summarize(rc)
	assert.Contains(t, text, "- V0: $1.50")
	assert.Contains(t, text, "...and 2 more records.")
	assert.Contains(t, text, "Skipped 1 items")
	assert.False(t, strings.Contains(text, "V6"))
}

func TestRun_UnrecognisedGoalRetrievesAndResponds(t *testing.T) {
	e, _ := newTestExecutor(Classification{Goal: Goal("general_question"), Confidence: 0.6})
	e.Store = &fakeStore{}

	out, err := e.Run(context.Background(), Request{Goal: "what can you do?"})
	require.NoError(t, err)
	assert.Equal(t, Goal("general_question"), out.Goal)
	assert.Equal(t, []string{"retrieve", "respond"}, out.Plan)
	assert.Equal(t, []string{"classify", "plan", "retrieve", "respond"}, out.Completed)
	assert.Empty(t, out.Errors)
	assert.Equal(t, "Here is what I found.", out.Response)
}
