package workflow

import (
	"fmt"
	"strings"
)

// Step binds a pending stage to the role allowed to act on it
type Step struct {
	Stage Stage
	Role  Role
}

// Chain is the ordered sequence of approval steps for one document type.
// A document walks Steps in order and ends in StageFinalized; StageRejected
// is reachable from any pending step.
type Chain struct {
	steps         []Step
	submitterRole Role
	index         map[Stage]int
}

// NewChain validates the steps and returns an immutable chain
func NewChain(submitterRole Role, steps ...Step) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("chain needs at least one step")
	}

	c := &Chain{
		steps:         append([]Step(nil), steps...),
		submitterRole: submitterRole,
		index:         make(map[Stage]int, len(steps)),
	}

	for i, step := range steps {
		if strings.TrimSpace(string(step.Stage)) == "" {
			return nil, fmt.Errorf("step %d: stage is required", i)
		}
		if step.Stage.IsTerminal() {
			return nil, fmt.Errorf("step %d: %s is reserved", i, step.Stage)
		}
		if strings.TrimSpace(string(step.Role)) == "" {
			return nil, fmt.Errorf("step %d: role is required for %s", i, step.Stage)
		}
		if _, dup := c.index[step.Stage]; dup {
			return nil, fmt.Errorf("step %d: duplicate stage %s", i, step.Stage)
		}
		c.index[step.Stage] = i
	}

	return c, nil
}

// MustChain is NewChain for package-level constants
func MustChain(submitterRole Role, steps ...Step) *Chain {
	c, err := NewChain(submitterRole, steps...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultExitPermitChain is CEO, factory, warehouse, then gate security
func DefaultExitPermitChain() *Chain {
	return MustChain("clerk",
		Step{Stage: StagePendingCEO, Role: "ceo"},
		Step{Stage: StagePendingFactory, Role: "factory_manager"},
		Step{Stage: StagePendingWarehouse, Role: "warehouse"},
		Step{Stage: StagePendingSecurity, Role: "security"},
	)
}

// DefaultPaymentOrderChain is CEO, finance, accounting, then treasury
func DefaultPaymentOrderChain() *Chain {
	return MustChain("clerk",
		Step{Stage: StagePendingCEO, Role: "ceo"},
		Step{Stage: StagePendingFinance, Role: "finance_manager"},
		Step{Stage: StagePendingAccounting, Role: "accountant"},
		Step{Stage: StagePendingTreasury, Role: "treasury"},
	)
}

// First returns the stage every new or edited document starts in
func (c *Chain) First() Stage {
	return c.steps[0].Stage
}

// Last returns the final pending stage, where reconciliation happens
func (c *Chain) Last() Stage {
	return c.steps[len(c.steps)-1].Stage
}

// Steps returns a copy of the ordered steps
func (c *Chain) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// SubmitterRole is notified when a document is rejected or finalized
func (c *Chain) SubmitterRole() Role {
	return c.submitterRole
}

// Contains reports whether the stage belongs to this chain, terminal stages included
func (c *Chain) Contains(s Stage) bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := c.index[s]
	return ok
}

// RoleFor returns the role gating a pending stage
func (c *Chain) RoleFor(s Stage) (Role, bool) {
	i, ok := c.index[s]
	if !ok {
		return "", false
	}
	return c.steps[i].Role, true
}

// Next returns the stage after s; the stage after the last step is StageFinalized
func (c *Chain) Next(s Stage) (Stage, bool) {
	i, ok := c.index[s]
	if !ok {
		return "", false
	}
	if i == len(c.steps)-1 {
		return StageFinalized, true
	}
	return c.steps[i+1].Stage, true
}

// Position returns the zero-based index of a pending stage, or -1
func (c *Chain) Position(s Stage) int {
	if i, ok := c.index[s]; ok {
		return i
	}
	return -1
}

// StagesBefore returns the pending stages strictly before s.
// For StageFinalized that is every step; for StageRejected and the first stage it is none.
func (c *Chain) StagesBefore(s Stage) []Stage {
	end := 0
	switch {
	case s == StageFinalized:
		end = len(c.steps)
	case s == StageRejected:
		end = 0
	default:
		end = c.Position(s)
		if end < 0 {
			end = 0
		}
	}

	out := make([]Stage, 0, end)
	for _, step := range c.steps[:end] {
		out = append(out, step.Stage)
	}
	return out
}
