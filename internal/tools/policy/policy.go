// Package policy gates tool execution: acknowledgment before side effects,
// per-turn call budgets, and a destructive-name confirmation heuristic. All
// checks are pure functions over an explicit Config handle so tests can run
// with independent configurations concurrently.
package policy

import (
	"fmt"
	"strings"
)

// DefaultMaxToolCallsPerTurn is the per-turn call budget when unconfigured.
const DefaultMaxToolCallsPerTurn = 50

// destructiveSubstrings is the fixed set of high-risk name fragments. This is
// a conservative substring heuristic, not a semantic check; false positives
// are expected and acceptable.
var destructiveSubstrings = []string{
	"delete", "remove", "clear", "reset", "format", "destroy", "wipe",
}

// Config holds the tunable policy knobs. The zero value is not useful; build
// one with New or from deployment configuration.
type Config struct {
	// RequireAcknowledgment forces a textual acknowledgment before a turn's
	// tool calls when the model produced no explanatory content.
	RequireAcknowledgment bool

	// MaxToolCallsPerTurn caps tool dispatch volume per model turn.
	MaxToolCallsPerTurn int

	// ConfirmDestructive blocks tools whose name matches the destructive
	// heuristic, so they never reach an executor without confirmation.
	ConfirmDestructive bool
}

// New returns a Config with the default gates enabled.
func New() *Config {
	return &Config{
		RequireAcknowledgment: true,
		MaxToolCallsPerTurn:   DefaultMaxToolCallsPerTurn,
		ConfirmDestructive:    true,
	}
}

// RequiresAcknowledgment reports whether a turn needs a synthesized
// acknowledgment: the policy is enabled and the model jumped straight to tool
// calls with no explanatory text.
func (c *Config) RequiresAcknowledgment(assistantContent string) bool {
	if !c.RequireAcknowledgment {
		return false
	}
	return strings.TrimSpace(assistantContent) == ""
}

// AcknowledgmentText returns the deterministic acknowledgment sentence for a
// batch of toolCount calls.
func (c *Config) AcknowledgmentText(toolCount int) string {
	if toolCount == 1 {
		return "I'll run one tool call to handle this."
	}
	return fmt.Sprintf("I'll run %d tool calls to handle this.", toolCount)
}

// BlockResult is the outcome of a destructive-name check.
type BlockResult struct {
	Blocked bool
	Reason  string
}

// IsBlocked reports whether toolName trips the destructive-name heuristic.
func (c *Config) IsBlocked(toolName string) BlockResult {
	if !c.ConfirmDestructive {
		return BlockResult{}
	}
	lowered := strings.ToLower(toolName)
	for _, substr := range destructiveSubstrings {
		if strings.Contains(lowered, substr) {
			return BlockResult{
				Blocked: true,
				Reason: fmt.Sprintf("tool %q looks destructive (matched %q) and requires manual confirmation before it can run",
					toolName, substr),
			}
		}
	}
	return BlockResult{}
}

// BudgetResult is the outcome of a per-turn budget check.
type BudgetResult struct {
	WithinLimit bool
	Remaining   int
}

// CheckBudget reports whether the turn may dispatch another tool call given
// cumulativeCalls already executed this turn. Exceeding the budget stops
// dispatch for the current turn only; it is never an error.
func (c *Config) CheckBudget(cumulativeCalls int) BudgetResult {
	limit := c.MaxToolCallsPerTurn
	if limit <= 0 {
		limit = DefaultMaxToolCallsPerTurn
	}
	remaining := limit - cumulativeCalls
	if remaining < 0 {
		remaining = 0
	}
	return BudgetResult{WithinLimit: cumulativeCalls < limit, Remaining: remaining}
}
