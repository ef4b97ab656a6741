package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/billagent/internal/notify"
)

// substantialLen is the response length above which a response is worth
// pushing even without structured results.
const substantialLen = 100

var noResultPhrases = []string{
	"no results found",
	"couldn't find any",
	"could not find",
	"no matching",
	"no documents found",
	"no emails found",
	"no bills found",
	"unable to find",
	"i don't have any",
	"no information available",
}

func (e *Executor) respond(ctx context.Context, st *RunState) {
	rc := responseContext(st)

	var text string
	if e.Responder != nil {
		e.useTool(st, "responder", string(rc.Goal))
		out, err := e.Responder.Respond(ctx, rc)
		if err != nil {
			st.addError(StepRespond, "response generation failed: %v", err)
			text = Summarize(rc)
		} else {
			text = out
		}
	} else {
		text = Summarize(rc)
	}

	if errs := st.Errors.Entries(); len(errs) > 0 {
		text = strings.TrimSpace(text) + "\n\nErrors encountered:\n- " + strings.Join(errs, "\n- ")
	}
	st.Response = text

	e.notifyResponse(ctx, st, rc, text)
}

func responseContext(st *RunState) ResponseContext {
	params := st.Params()
	return ResponseContext{
		Query:      st.GoalText(),
		Goal:       st.Goal(),
		Identity:   st.Identity,
		Category:   params.ScanCategory(st.Goal()),
		Params:     params,
		Items:      st.Items,
		Records:    st.Records,
		Retrieved:  st.Retrieved,
		WebResults: st.WebResults,
		Reminders:  st.Reminders,
		Skipped:    st.Skipped,
		Errors:     st.Errors.Entries(),
	}
}

// HasResults reports whether the run produced any structured result.
func (rc ResponseContext) HasResults() bool {
	return len(rc.Items) > 0 || len(rc.Records) > 0 || len(rc.Retrieved) > 0 ||
		len(rc.WebResults) > 0 || len(rc.Reminders) > 0
}

// Summarize is the plain response used when no responder is available.
func Summarize(rc ResponseContext) string {
	if !rc.HasResults() {
		return "No results found for your request."
	}
	var b strings.Builder
	if n := len(rc.Items); n > 0 {
		fmt.Fprintf(&b, "Found %d relevant %s emails.\n", n, rc.Category)
	}
	for i, r := range rc.Records {
		if i == 5 {
			fmt.Fprintf(&b, "...and %d more records.\n", len(rc.Records)-5)
			break
		}
		line := "- " + r.Vendor()
		if line == "- " {
			line = "- " + r.Source
		}
		if amt, ok := r.Amount(); ok {
			line += fmt.Sprintf(": $%.2f", amt)
		}
		if due, ok := r.DueDate(); ok {
			line += " due " + due.Format(dateLayout)
		}
		b.WriteString(line + "\n")
	}
	if n := len(rc.Retrieved); n > 0 {
		fmt.Fprintf(&b, "Found %d matching documents.\n", n)
		for i, h := range rc.Retrieved {
			if i == 3 {
				break
			}
			if subj, ok := h.Metadata["subject"].(string); ok && subj != "" {
				fmt.Fprintf(&b, "- %s (%.2f)\n", subj, h.Score)
			}
		}
	}
	for i, w := range rc.WebResults {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", w.Title, w.URL)
	}
	if n := len(rc.Reminders); n > 0 {
		fmt.Fprintf(&b, "Created %d reminders.\n", n)
	}
	if rc.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped %d items without an upcoming due date.\n", rc.Skipped)
	}
	return strings.TrimSpace(b.String())
}

// ShouldNotify decides whether a response is worth pushing through ch. The
// reason explains a refusal.
func ShouldNotify(ch, origin notify.Channel, rc ResponseContext, response string) (bool, string) {
	switch {
	case ch == "":
		return false, "no response channel configured"
	case !ch.IsChat():
		return false, fmt.Sprintf("channel %s is not a chat channel", ch)
	case ch == origin:
		return false, "request arrived on this channel"
	}

	if !rc.HasResults() && len(response) <= substantialLen {
		return false, "no results to send"
	}
	lower := strings.ToLower(response)
	for _, phrase := range noResultPhrases {
		if strings.Contains(lower, phrase) {
			return false, "response indicates no results"
		}
	}
	return true, ""
}

// NotificationHeader prefixes pushed responses.
func NotificationHeader(rc ResponseContext) string {
	query := rc.Query
	if r := []rune(query); len(r) > 100 {
		query = string(r[:100])
	}
	cat := string(rc.Category)
	if cat != "" {
		cat = strings.ToUpper(cat[:1]) + cat[1:]
	}
	return fmt.Sprintf("🤖 *Bill Agent*\n📋 Query: %s\n🏷️ Type: %s\n%s\n\n", query, cat, strings.Repeat("─", 30))
}

func (e *Executor) notifyResponse(ctx context.Context, st *RunState, rc ResponseContext, response string) {
	ch := e.Options.ResponseChannel
	if e.Notifier == nil || ch == "" {
		return
	}

	ok, reason := ShouldNotify(ch, st.Origin, rc, response)
	recipient := e.Options.Recipients[ch]
	if ok && recipient == "" {
		ok, reason = false, "no recipient configured"
	}
	if !ok {
		log.Printf("[Executor] Not notifying via %s: %s", ch, reason)
		e.Logger.LogNotify(st.Identity, string(ch), false, reason)
		return
	}

	e.useTool(st, "notify."+string(ch), recipient)
	if err := e.Notifier.Send(ctx, ch, recipient, NotificationHeader(rc)+response); err != nil {
		st.addError(StepRespond, "notification via %s failed: %v", ch, err)
		e.Logger.LogNotify(st.Identity, string(ch), false, err.Error())
		return
	}
	e.Logger.LogNotify(st.Identity, string(ch), true, "")
}
