package workflow

import "context"

// StageMachine tracks the current stage of one document and validates transitions
type StageMachine interface {
	// Stage returns the current stage
	Stage() Stage

	// CanFire returns true if the trigger is configured for the current stage
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, moving to the new stage if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers configured for the current stage
	PermittedTriggers() []Trigger
}
