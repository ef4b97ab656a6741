package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/reminder"
)

// Request is one goal to run.
type Request struct {
	Goal     string
	Identity string
	// Origin is the channel the request arrived on. Responses are never
	// pushed back to it as a notification.
	Origin notify.Channel
}

// Outcome summarises a finished run.
type Outcome struct {
	SessionID  string        `json:"session_id"`
	Response   string        `json:"response"`
	Goal       Goal          `json:"goal"`
	Confidence float64       `json:"confidence"`
	Plan       []string      `json:"plan"`
	Completed  []string      `json:"completed"`
	Tools      []string      `json:"tools"`
	Errors     []string      `json:"errors"`
	Duration   time.Duration `json:"duration"`
	Items      int           `json:"items"`
	Saved      int           `json:"saved"`
	Retrieved  int           `json:"retrieved"`
	Reminders  int           `json:"reminders"`
}

// Options tune step behaviour.
type Options struct {
	ScanDays        int
	MaxResults      int
	TopK            int
	DaysBefore      []int
	ReminderChannel notify.Channel
	// ResponseChannel is the secondary channel substantial responses are
	// pushed to. Empty disables response notifications.
	ResponseChannel notify.Channel
	Recipients      map[notify.Channel]string
}

func DefaultOptions() Options {
	return Options{
		ScanDays:        30,
		MaxResults:      50,
		TopK:            10,
		DaysBefore:      reminder.DefaultOffsets,
		ReminderChannel: notify.ChannelEmail,
		Recipients:      map[notify.Channel]string{},
	}
}

// Executor runs the plan for a goal, one step at a time.
type Executor struct {
	Classifier Classifier
	Fetcher    mail.Fetcher
	Filter     RelevanceFilter
	Parser     DocumentParser
	Extractor  Extractor
	Store      DocumentStore
	Search     WebSearcher
	Reminders  ReminderWriter
	Responder  Responder
	Notifier   Notifier
	History    HistoryStore

	Options Options
	Logger  *observability.Logger

	now func() time.Time
}

func NewExecutor(classifier Classifier, responder Responder, opts Options, logger *observability.Logger) *Executor {
	return &Executor{
		Classifier: classifier,
		Responder:  responder,
		Options:    opts,
		Logger:     logger,
		now:        time.Now,
	}
}

type stepHandler func(*Executor, context.Context, *RunState)

var stepHandlers = [...]stepHandler{
	StepClassify:        (*Executor).classify,
	StepPlan:            (*Executor).plan,
	StepFetch:           (*Executor).fetch,
	StepParseDocuments:  (*Executor).parseDocuments,
	StepExtract:         (*Executor).extract,
	StepPersist:         (*Executor).persist,
	StepRetrieve:        (*Executor).retrieve,
	StepQueryStore:      (*Executor).queryStore,
	StepWebSearch:       (*Executor).webSearch,
	StepCreateReminders: (*Executor).createReminders,
	StepRespond:         (*Executor).respond,
	StepError:           (*Executor).errorTerminal,
}

// Every step must have a handler.
var _ = [1]struct{}{}[len(stepHandlers)-int(stepCount)]

// Run executes goal end to end. It only returns an error when the run cannot
// start or the context ends mid-run; step failures are reported in the
// Outcome.
func (e *Executor) Run(ctx context.Context, req Request) (Outcome, error) {
	st, err := NewRunState(strings.TrimSpace(req.Goal), req.Identity, req.Origin)
	if err != nil {
		return Outcome{}, err
	}
	start := e.clock()
	defer observability.SetStatus(observability.RoleIdle, "")

	log.Printf("[Executor] Run %s: %q", st.SessionID, st.GoalText())
	if err := e.drive(ctx, st); err != nil {
		return Outcome{}, err
	}

	e.saveHistory(st)
	out := e.outcome(st, e.clock().Sub(start))
	log.Printf("[Executor] Run %s finished in %s (%d steps, %d errors)", st.SessionID, out.Duration.Round(time.Millisecond), len(out.Completed), len(out.Errors))
	return out, nil
}

func (e *Executor) drive(ctx context.Context, st *RunState) error {
	e.exec(ctx, st, StepClassify)
	if st.Goal() == GoalUnknown || st.Aborted() {
		e.exec(ctx, st, StepError)
		return nil
	}

	e.exec(ctx, st, StepPlan)
	plan := st.Plan()
	for i := 0; i <= len(plan) && !st.Aborted(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, ok := NextStep(plan, st.Completed.Entries())
		if !ok {
			break
		}
		e.exec(ctx, st, next)
	}
	if st.Aborted() {
		e.exec(ctx, st, StepError)
	}
	return nil
}

// exec runs one step and marks it complete whatever the handler does. A step
// that is already complete is not run again. A panicking handler aborts the
// run towards the error terminal.
func (e *Executor) exec(ctx context.Context, st *RunState, step Step) {
	if st.Completed.Contains(step) {
		log.Printf("[Executor] Step %s already complete, skipping", step)
		return
	}

	start := e.clock()
	errsBefore := st.Errors.Len()
	status := "completed"
	observability.SetStatus(observability.RoleExecutor, step.String())

	defer func() {
		if r := recover(); r != nil {
			status = "panicked"
			st.addError(step, "internal error: %v", r)
			st.abort()
			log.Printf("[Executor] Step %s panicked: %v", step, r)
		}
		st.Completed.Append(step)
		e.Logger.LogStep(st.Identity, st.SessionID, step.String(), status, e.clock().Sub(start))
	}()

	if step >= stepCount || stepHandlers[step] == nil {
		panic(fmt.Sprintf("no handler for %s", step))
	}
	stepHandlers[step](e, ctx, st)

	if st.Errors.Len() > errsBefore {
		status = "completed_with_errors"
	}
}

func (e *Executor) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Executor) useTool(st *RunState, name string, args string) {
	st.Tools.Append(name)
	e.Logger.LogToolCall(st.Identity, st.SessionID, name, args)
}

func (e *Executor) saveHistory(st *RunState) {
	if e.History == nil {
		return
	}
	chatID := st.Identity
	if chatID == "" {
		chatID = "local"
	}
	if err := e.History.AddMessage(chatID, "human", st.GoalText()); err != nil {
		log.Printf("[Executor] Failed to save history: %v", err)
		return
	}
	if err := e.History.AddMessage(chatID, "ai", st.Response); err != nil {
		log.Printf("[Executor] Failed to save history: %v", err)
	}
}

func (e *Executor) outcome(st *RunState, elapsed time.Duration) Outcome {
	completed := st.Completed.Entries()
	names := make([]string, len(completed))
	for i, s := range completed {
		names[i] = s.String()
	}
	return Outcome{
		SessionID:  st.SessionID,
		Response:   st.Response,
		Goal:       st.Goal(),
		Confidence: st.Confidence(),
		Plan:       st.Plan().Names(),
		Completed:  names,
		Tools:      st.Tools.Entries(),
		Errors:     st.Errors.Entries(),
		Duration:   elapsed,
		Items:      len(st.Items),
		Saved:      len(st.SavedIDs),
		Retrieved:  len(st.Retrieved),
		Reminders:  len(st.Reminders),
	}
}
