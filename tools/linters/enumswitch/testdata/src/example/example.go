package example

type ActionKind string

const (
	ActionGitHubPR    ActionKind = "github.pr"
	ActionJiraCreate  ActionKind = "jira.create"
	ActionApplyPatch  ActionKind = "apply_patch"
	actionUnsupported ActionKind = "unsupported"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Single constant, not an enum.
type Channel string

const ChannelSlack Channel = "slack"

type Item struct {
	Action   ActionKind
	Decision Decision
	Channel  Channel
	Note     string
}

func missing(k ActionKind) string {
	switch k { // want "switch on ActionKind is missing cases: ActionApplyPatch, actionUnsupported"
	case ActionGitHubPR:
		return "pr"
	case ActionJiraCreate:
		return "jira"
	}
	return ""
}

func exhaustive(d Decision) bool {
	switch d {
	case DecisionApprove:
		return true
	case DecisionReject:
		return false
	}
	return false
}

func literalCase(d Decision) bool {
	switch d {
	case "approve", DecisionReject:
		return true
	}
	return false
}

func withDefault(k ActionKind) string {
	switch k {
	case ActionGitHubPR:
		return "pr"
	default:
		return "other"
	}
}

func notEnum(c Channel, s string) {
	switch c {
	}
	switch s {
	case "x":
	}
}

func bad() {
	i := &Item{}
	i.Action = "github.pr"   // want "enum field Action assigned string literal"
	i.Decision = ("approve") // want "enum field Decision assigned string literal"

	_ = Item{Decision: "reject"} // want "enum field Decision assigned string literal"
}

func good() {
	i := &Item{Action: ActionGitHubPR, Channel: "slack", Note: "ok"}
	i.Decision = DecisionApprove

	decision := DecisionReject
	i.Decision = decision
}
