package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/reminder"
)

const (
	emailPreviewLen = 500
	emailBodyLen    = 1000
)

func notConfigured(what string) error {
	return fmt.Errorf("no %s configured", what)
}

func (e *Executor) classify(ctx context.Context, st *RunState) {
	if e.Classifier == nil {
		st.addError(StepClassify, "%v", notConfigured("classifier"))
		_ = st.setClassification(GoalUnknown, 0, Params{})
		return
	}

	e.useTool(st, "classifier", st.GoalText())
	c, err := e.Classifier.Classify(ctx, st.GoalText())
	if err != nil {
		st.addError(StepClassify, "classification failed: %v", err)
		_ = st.setClassification(GoalUnknown, 0, Params{})
		return
	}

	goal := ParseGoal(string(c.Goal))
	if goal == GoalUnknown {
		st.addError(StepClassify, "could not understand the request")
	}
	if err := st.setClassification(goal, c.Confidence, ParseParams(c.Params)); err != nil {
		st.addError(StepClassify, "%v", err)
		return
	}
	log.Printf("[Executor] Goal %s (confidence %.2f)", goal, st.Confidence())
}

func (e *Executor) plan(ctx context.Context, st *RunState) {
	p := BuildPlan(st.Goal(), st.Params())
	if err := st.setPlan(p); err != nil {
		st.addError(StepPlan, "%v", err)
		return
	}
	log.Printf("[Executor] Plan: %s", p)
	e.Logger.LogPlan(st.Identity, st.SessionID, string(st.Goal()), p.Names())
}

func (e *Executor) fetch(ctx context.Context, st *RunState) {
	if e.Fetcher == nil {
		st.addError(StepFetch, "%v", notConfigured("mail fetcher"))
		return
	}

	params := st.Params()
	cat := params.ScanCategory(st.Goal())
	from, to := params.Range(e.clock(), e.Options.ScanDays)
	q := mail.Query{
		From:               from,
		To:                 to,
		Category:           cat,
		RequireAttachments: cat.RequiresAttachments(),
		MaxResults:         e.Options.MaxResults,
	}

	e.useTool(st, "mail.fetch", fmt.Sprintf("%s %s..%s", cat, from.Format(dateLayout), to.Format(dateLayout)))
	items, err := e.Fetcher.Fetch(ctx, q)
	if err != nil {
		st.addError(StepFetch, "mail fetch failed: %v", err)
		return
	}
	log.Printf("[Executor] Fetched %d %s messages", len(items), cat)
	if len(items) == 0 {
		return
	}

	kept := items
	if e.Filter != nil {
		e.useTool(st, "relevance", fmt.Sprintf("%d items", len(items)))
		res := e.Filter.Apply(ctx, st.GoalText(), cat, items)
		st.Decisions = res.Decisions
		kept = res.Relevant
	}
	st.Items = kept

	if !cat.RequiresAttachments() {
		return
	}
	for _, item := range kept {
		for _, att := range item.Attachments {
			if !mail.SupportedAttachment(att.Filename) {
				continue
			}
			e.useTool(st, "mail.download", att.Filename)
			path, err := e.Fetcher.Download(ctx, item, att)
			if err != nil {
				st.addError(StepFetch, "download of %s from %q failed: %v", att.Filename, item.Subject, err)
				continue
			}
			st.Downloaded = append(st.Downloaded, Download{ItemID: item.ID, Path: path})
		}
	}
}

func (e *Executor) parseDocuments(ctx context.Context, st *RunState) {
	if len(st.Downloaded) == 0 {
		return
	}
	if e.Parser == nil {
		st.addError(StepParseDocuments, "%v", notConfigured("document parser"))
		return
	}

	for _, d := range st.Downloaded {
		e.useTool(st, "document.parse", d.Path)
		doc, err := e.Parser.Parse(ctx, d.Path)
		if err != nil {
			st.addError(StepParseDocuments, "failed parsing %s: %v", filepath.Base(d.Path), err)
			continue
		}
		if !doc.Success || strings.TrimSpace(doc.Text) == "" {
			st.addError(StepParseDocuments, "no text in %s", filepath.Base(d.Path))
			continue
		}
		doc.ItemID = d.ItemID
		st.Documents = append(st.Documents, doc)
	}
	log.Printf("[Executor] Parsed %d of %d documents", len(st.Documents), len(st.Downloaded))
}

type extractSource struct {
	name   string
	itemID string
	text   string
}

func (e *Executor) extract(ctx context.Context, st *RunState) {
	goal := st.Goal()
	params := st.Params()
	cat := params.ScanCategory(goal)

	var sources []extractSource
	if goal == GoalManualAdd {
		if params.Category == "" {
			cat = mail.CategoryBills
		}
		sources = append(sources, extractSource{name: "manual", text: st.GoalText()})
	} else {
		covered := make(map[string]bool)
		for _, d := range st.Documents {
			sources = append(sources, extractSource{name: d.Path, itemID: d.ItemID, text: d.Text})
			covered[d.ItemID] = true
		}
		for _, item := range st.Items {
			if covered[item.ID] || strings.TrimSpace(item.Body) == "" {
				continue
			}
			sources = append(sources, extractSource{
				name:   "Email: " + item.Subject,
				itemID: item.ID,
				text:   fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n%s", item.Subject, item.Sender, item.Date.Format(dateLayout), item.Body),
			})
		}
	}
	if len(sources) == 0 {
		return
	}
	if e.Extractor == nil {
		st.addError(StepExtract, "%v", notConfigured("extractor"))
		return
	}

	schema := cat.Schema()
	for _, src := range sources {
		e.useTool(st, "extractor", schema)
		ex, err := e.Extractor.Extract(ctx, src.text, schema)
		if err != nil {
			st.addError(StepExtract, "extraction from %s failed: %v", src.name, err)
			continue
		}
		if !ex.Success || len(ex.Fields) == 0 {
			st.addError(StepExtract, "no data extracted from %s", src.name)
			continue
		}
		st.Records = append(st.Records, Record{
			Source:   src.name,
			ItemID:   src.itemID,
			Category: cat,
			Schema:   schema,
			Fields:   ex.Fields,
		})
	}
	log.Printf("[Executor] Extracted %d records from %d sources", len(st.Records), len(sources))
}

func (e *Executor) persist(ctx context.Context, st *RunState) {
	if len(st.Records) == 0 && len(st.Items) == 0 && len(st.Documents) == 0 {
		return
	}
	if e.Store == nil {
		st.addError(StepPersist, "%v", notConfigured("document store"))
		return
	}

	cat := st.Params().ScanCategory(st.Goal())
	e.useTool(st, "store.save", fmt.Sprintf("%d records, %d emails, %d documents", len(st.Records), len(st.Items), len(st.Documents)))

	save := func(what, text string, meta map[string]any) {
		id, err := e.Store.Save(ctx, text, meta)
		if err != nil {
			st.addError(StepPersist, "failed to save %s: %v", what, err)
			return
		}
		st.SavedIDs = append(st.SavedIDs, id)
	}

	for _, r := range st.Records {
		save("record from "+r.Source, r.Describe(), r.Metadata())
	}
	for _, item := range st.Items {
		save("email "+item.Subject, emailDocument(item, cat), emailMetadata(item, cat))
	}
	for _, d := range st.Documents {
		save("document "+filepath.Base(d.Path), d.Text, map[string]any{
			"type":     "document",
			"path":     d.Path,
			"item_id":  d.ItemID,
			"category": string(cat),
		})
	}
	log.Printf("[Executor] Saved %d documents", len(st.SavedIDs))
}

func emailDocument(item mail.Item, cat mail.Category) string {
	body := item.Preview(emailBodyLen)
	return fmt.Sprintf("EMAIL DOCUMENT\nFrom: %s\nSubject: %s\nDate: %s\nCategory: %s\n\nSummary: Email from %s about %s\n\nBody:\n%s",
		item.Sender, item.Subject, item.Date.Format(dateLayout), cat, item.Sender, item.Subject, body)
}

func emailMetadata(item mail.Item, cat mail.Category) map[string]any {
	return map[string]any{
		"type":            "email",
		"item_id":         item.ID,
		"category":        string(cat),
		"sender":          item.Sender,
		"subject":         item.Subject,
		"date":            item.Date.Format(dateLayout),
		"body_preview":    item.Preview(emailPreviewLen),
		"has_attachments": item.HasAttachments(),
	}
}

func searchFilters(p Params) map[string]any {
	filters := map[string]any{}
	if p.Category != "" {
		filters["category"] = string(p.Category)
	}
	if p.Vendor != "" {
		filters["vendor"] = p.Vendor
	}
	return filters
}

func (e *Executor) retrieve(ctx context.Context, st *RunState) {
	if e.Store == nil {
		st.addError(StepRetrieve, "%v", notConfigured("document store"))
		return
	}
	e.useTool(st, "store.search", st.GoalText())
	hits, err := e.Store.Search(ctx, st.GoalText(), searchFilters(st.Params()), e.Options.TopK)
	if err != nil {
		st.addError(StepRetrieve, "search failed: %v", err)
		return
	}
	st.Retrieved = hits
	log.Printf("[Executor] Retrieved %d documents", len(hits))
}

// StoreQuery turns a structural query for goal into a semantic search.
func StoreQuery(goal Goal, p Params) (string, map[string]any) {
	filters := searchFilters(p)
	switch goal {
	case GoalAnalyzeSpending:
		filters["type"] = "record"
		q := "bills expenses payments amounts by category"
		if p.Category != "" {
			q = fmt.Sprintf("%s bills expenses payments amounts", p.Category)
		}
		return q, filters
	case GoalSetReminder:
		filters["type"] = "record"
		q := "upcoming bills due dates payments"
		if p.Vendor != "" {
			q = fmt.Sprintf("upcoming %s bill due date payment", p.Vendor)
		}
		return q, filters
	case GoalFindAlternatives:
		q := "recurring subscription service bill"
		if p.Vendor != "" {
			q = fmt.Sprintf("recurring %s subscription bill", p.Vendor)
		}
		return q, filters
	}
	return "", filters
}

func (e *Executor) queryStore(ctx context.Context, st *RunState) {
	if e.Store == nil {
		st.addError(StepQueryStore, "%v", notConfigured("document store"))
		return
	}
	query, filters := StoreQuery(st.Goal(), st.Params())
	if query == "" {
		query = st.GoalText()
	}
	e.useTool(st, "store.search", query)
	hits, err := e.Store.Search(ctx, query, filters, e.Options.TopK)
	if err != nil {
		st.addError(StepQueryStore, "query failed: %v", err)
		return
	}
	st.Retrieved = hits
	log.Printf("[Executor] Store query %q returned %d documents", query, len(hits))
}

// AlternativesQuery builds the web search for cheaper alternatives to vendor.
func AlternativesQuery(vendor string) string {
	return fmt.Sprintf("cheaper alternative to %s comparison pricing", vendor)
}

func (e *Executor) webSearch(ctx context.Context, st *RunState) {
	if e.Search == nil {
		st.addError(StepWebSearch, "%v", notConfigured("web search"))
		return
	}

	query := st.GoalText()
	vendor := st.Params().Vendor
	if vendor == "" {
		for _, h := range st.Retrieved {
			if v := recordFromHit(h).Vendor(); v != "" {
				vendor = v
				break
			}
		}
	}
	if vendor != "" {
		query = AlternativesQuery(vendor)
	}

	e.useTool(st, "web.search", query)
	results, err := e.Search.Search(ctx, query)
	if err != nil {
		st.addError(StepWebSearch, "web search failed: %v", err)
		return
	}
	st.WebResults = results
	log.Printf("[Executor] Web search %q returned %d results", query, len(results))
}

func (e *Executor) createReminders(ctx context.Context, st *RunState) {
	records := st.Records
	if len(records) == 0 {
		for _, h := range st.Retrieved {
			records = append(records, recordFromHit(h))
		}
	}
	if len(records) == 0 {
		return
	}
	if e.Reminders == nil {
		st.addError(StepCreateReminders, "%v", notConfigured("reminder store"))
		return
	}

	params := st.Params()
	ch := params.NotifyChannel(e.Options.ReminderChannel)
	recipient := e.Options.Recipients[ch]
	offsets := params.ReminderOffsets(e.Options.DaysBefore)
	now := e.clock()

	e.useTool(st, "reminders.add", fmt.Sprintf("%d candidates via %s", len(records), ch))
	for _, rec := range records {
		due, ok := rec.DueDate()
		if !ok {
			st.Skipped++
			continue
		}
		amount, _ := rec.Amount()
		billID := rec.ItemID
		if billID == "" {
			billID = rec.Source
		}

		scheduled, err := reminder.Schedule(reminder.Bill{ID: billID, Vendor: rec.Vendor(), Amount: amount, DueDate: due}, offsets, now)
		if errors.Is(err, reminder.ErrNoDueDate) || errors.Is(err, reminder.ErrPastDue) {
			st.Skipped++
			continue
		}
		if err != nil {
			st.addError(StepCreateReminders, "scheduling %s failed: %v", rec.Vendor(), err)
			continue
		}

		for _, r := range scheduled {
			r.Channel = ch
			r.Recipient = recipient
			id, err := e.Reminders.Add(ctx, r)
			if err != nil {
				st.addError(StepCreateReminders, "saving reminder for %s failed: %v", r.Vendor, err)
				continue
			}
			r.ID = id
			st.Reminders = append(st.Reminders, r)
		}
	}

	if len(st.Reminders) > 0 && recipient == "" {
		st.addError(StepCreateReminders, "no %s recipient configured, reminders cannot be delivered", ch)
	}
	log.Printf("[Executor] Created %d reminders, skipped %d", len(st.Reminders), st.Skipped)
}

func (e *Executor) errorTerminal(ctx context.Context, st *RunState) {
	errs := st.Errors.Entries()
	if len(errs) == 0 {
		errs = []string{"the request could not be completed"}
	}
	st.Response = "Errors encountered: " + strings.Join(errs, "; ")
}
