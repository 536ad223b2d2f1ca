package workflow

import (
	"context"
	"fmt"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StageMachineBuilder builds a configured stage machine
type StageMachineBuilder interface {
	// Configure returns a stage configuration for the given stage
	Configure(stage Stage) StageConfiguration

	// Build creates a new machine instance positioned at the given stage
	Build(initial Stage) StageMachine
}

// StageConfiguration configures transitions for a specific stage
type StageConfiguration interface {
	// Permit allows a trigger to move to the target stage
	Permit(trigger Trigger, to Stage) StageConfiguration

	// PermitIf allows a trigger to move to the target stage if the guard passes
	PermitIf(trigger Trigger, to Stage, guard GuardFunc) StageConfiguration
}

type transition struct {
	to    Stage
	guard GuardFunc
}

type stageConfig struct {
	chain       *Chain
	from        Stage
	transitions map[Trigger][]transition
}

type stageMachineBuilder struct {
	chain          *Chain
	configurations map[Stage]*stageConfig
}

type stageMachine struct {
	current        Stage
	configurations map[Stage]*stageConfig
}

// NewBuilder creates a builder whose stages are restricted to the chain
func NewBuilder(chain *Chain) StageMachineBuilder {
	return &stageMachineBuilder{
		chain:          chain,
		configurations: make(map[Stage]*stageConfig),
	}
}

// Configure returns a stage configuration for the given stage
func (b *stageMachineBuilder) Configure(stage Stage) StageConfiguration {
	if !b.chain.Contains(stage) {
		panic(fmt.Sprintf("stage %s is not part of the chain", stage))
	}

	config, exists := b.configurations[stage]
	if !exists {
		config = &stageConfig{
			chain:       b.chain,
			from:        stage,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[stage] = config
	}

	return config
}

// Build creates a new machine instance positioned at the given stage
func (b *stageMachineBuilder) Build(initial Stage) StageMachine {
	if !b.chain.Contains(initial) {
		panic(fmt.Sprintf("initial stage %s is not part of the chain", initial))
	}

	// Deep copy so later Configure calls don't leak into built machines
	configs := make(map[Stage]*stageConfig, len(b.configurations))
	for stage, config := range b.configurations {
		transitions := make(map[Trigger][]transition, len(config.transitions))
		for trigger, ts := range config.transitions {
			transitions[trigger] = append([]transition{}, ts...)
		}
		configs[stage] = &stageConfig{
			from:        stage,
			transitions: transitions,
		}
	}

	return &stageMachine{
		current:        initial,
		configurations: configs,
	}
}

// Permit allows a trigger to move to the target stage
func (c *stageConfig) Permit(trigger Trigger, to Stage) StageConfiguration {
	return c.PermitIf(trigger, to, nil)
}

// PermitIf allows a trigger to move to the target stage if the guard passes
func (c *stageConfig) PermitIf(trigger Trigger, to Stage, guard GuardFunc) StageConfiguration {
	if !c.chain.Contains(to) {
		panic(fmt.Sprintf("target stage %s is not part of the chain", to))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		to:    to,
		guard: guard,
	})

	return c
}

// Stage returns the current stage
func (m *stageMachine) Stage() Stage {
	return m.current
}

// CanFire returns true if the trigger has any transition from the current stage.
// Guards are not evaluated.
func (m *stageMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.current]
	if !exists {
		return false
	}
	return len(config.transitions[trigger]) > 0
}

// Fire attempts to execute the trigger, moving to the new stage if allowed
func (m *stageMachine) Fire(ctx context.Context, trigger Trigger) error {
	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire %s from %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	transitions := config.transitions[trigger]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}

	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

// PermittedTriggers returns all triggers configured for the current stage
func (m *stageMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// BuildMachine wires the standard approval transitions for a chain:
// approve walks forward one step, the last step may approve or finalize,
// every pending step may reject, and edit returns any stage to the first step.
// Approve, finalize and reject are guarded by the acting role in ctx.
func BuildMachine(chain *Chain, current Stage) StageMachine {
	b := NewBuilder(chain)
	first := chain.First()

	for _, step := range chain.Steps() {
		next, _ := chain.Next(step.Stage)
		guard := RequireRole(step.Role)

		cfg := b.Configure(step.Stage).
			PermitIf(TriggerApprove, next, guard).
			PermitIf(TriggerReject, StageRejected, guard).
			Permit(TriggerEdit, first)

		if step.Stage == chain.Last() {
			cfg.PermitIf(TriggerFinalize, StageFinalized, guard)
		}
	}

	b.Configure(StageRejected).Permit(TriggerEdit, first)
	b.Configure(StageFinalized).Permit(TriggerEdit, first)

	return b.Build(current)
}
