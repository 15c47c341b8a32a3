package model

// Row is a single record returned by the relational store
type Row = map[string]any

// Response is what the router returns for one message
type Response struct {
	// Answer is either a string or []Row
	Answer    any      `json:"answer"`
	AgentUsed Intent   `json:"agentUsed"`
	Trace     []string `json:"trace"`

	// SQL is the executed statement. Only set when AgentUsed is IntentSQL.
	SQL string `json:"sql,omitempty"`
}

// Outcome tags a StrategyResult
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StrategyResult is returned uniformly by every strategy the router dispatches to
type StrategyResult struct {
	Outcome Outcome
	Answer  any
	Source  Intent
	Query   string
	Err     error
}

// Success builds a successful result
func Success(source Intent, answer any) *StrategyResult {
	return &StrategyResult{Outcome: OutcomeSuccess, Source: source, Answer: answer}
}

// Empty builds a result for a strategy that produced nothing usable
func Empty(source Intent) *StrategyResult {
	return &StrategyResult{Outcome: OutcomeEmpty, Source: source}
}

// Failed builds a result for a strategy that failed
func Failed(source Intent, err error) *StrategyResult {
	return &StrategyResult{Outcome: OutcomeFailed, Source: source, Err: err}
}
