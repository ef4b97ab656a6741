package agent

import (
	"slices"
	"strconv"
	"strings"
)

// Goal is the classified intent of a request.
type Goal string

const (
	GoalScanBills        Goal = "scan_bills"
	GoalScanEmails       Goal = "scan_emails"
	GoalQueryHistory     Goal = "query_history"
	GoalAnalyzeSpending  Goal = "analyze_spending"
	GoalSetReminder      Goal = "set_reminder"
	GoalFindAlternatives Goal = "find_alternatives"
	GoalManualAdd        Goal = "manual_add"

	// GoalUnknown means classification failed. It routes straight to the
	// error terminal without planning.
	GoalUnknown Goal = "unknown"
)

// Goals lists every known goal in the closed vocabulary.
var Goals = []Goal{
	GoalScanBills,
	GoalScanEmails,
	GoalQueryHistory,
	GoalAnalyzeSpending,
	GoalSetReminder,
	GoalFindAlternatives,
	GoalManualAdd,
}

// ParseGoal normalises a label. An empty label is GoalUnknown; anything else
// is kept as given so unrecognised labels still get a plan.
func ParseGoal(s string) Goal {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	if s == "" {
		return GoalUnknown
	}
	return Goal(s)
}

// Known reports whether g is in the closed vocabulary.
func (g Goal) Known() bool {
	for _, k := range Goals {
		if g == k {
			return true
		}
	}
	return false
}

func (g Goal) isScan() bool {
	return g == GoalScanBills || g == GoalScanEmails
}

// Step identifies one unit of work in a run.
type Step uint8

const (
	StepClassify Step = iota
	StepPlan
	StepFetch
	StepParseDocuments
	StepExtract
	StepPersist
	StepRetrieve
	StepQueryStore
	StepWebSearch
	StepCreateReminders
	StepRespond
	StepError

	stepCount
)

var stepNames = [...]string{
	StepClassify:        "classify",
	StepPlan:            "plan",
	StepFetch:           "fetch",
	StepParseDocuments:  "parse-documents",
	StepExtract:         "extract",
	StepPersist:         "persist",
	StepRetrieve:        "retrieve",
	StepQueryStore:      "query-store",
	StepWebSearch:       "web-search",
	StepCreateReminders: "create-reminders",
	StepRespond:         "respond",
	StepError:           "error",
}

var _ = [1]struct{}{}[len(stepNames)-int(stepCount)]

func (s Step) String() string {
	if s < stepCount {
		return stepNames[s]
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// Plan is the ordered list of steps compiled for a goal.
type Plan []Step

func (p Plan) Names() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.String()
	}
	return out
}

func (p Plan) String() string {
	return strings.Join(p.Names(), " -> ")
}

// BuildPlan compiles the plan for goal. It is total: every goal, known or
// not, yields a non-empty plan ending in StepRespond.
func BuildPlan(goal Goal, params Params) Plan {
	switch {
	case goal.isScan():
		if params.ScanCategory(goal).RequiresAttachments() {
			return Plan{StepFetch, StepParseDocuments, StepExtract, StepPersist, StepRespond}
		}
		return Plan{StepFetch, StepExtract, StepPersist, StepRespond}
	case goal == GoalQueryHistory:
		return Plan{StepRetrieve, StepRespond}
	case goal == GoalAnalyzeSpending:
		return Plan{StepQueryStore, StepRespond}
	case goal == GoalSetReminder:
		return Plan{StepQueryStore, StepCreateReminders, StepRespond}
	case goal == GoalFindAlternatives:
		return Plan{StepQueryStore, StepWebSearch, StepRespond}
	case goal == GoalManualAdd:
		return Plan{StepExtract, StepPersist, StepRespond}
	}
	return Plan{StepRetrieve, StepRespond}
}

// NextStep returns the first planned step not in completed. ok is false when
// every planned step is complete.
func NextStep(plan Plan, completed []Step) (Step, bool) {
	for _, s := range plan {
		if !slices.Contains(completed, s) {
			return s, true
		}
	}
	return 0, false
}
