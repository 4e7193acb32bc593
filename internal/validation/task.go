package validation

import (
	"fmt"

	"github.com/untoldecay/apex/internal/tasks"
)

// TaskValidator validates a task before a lifecycle transition,
// composing via Chain the same way PatternValidator does.
type TaskValidator func(t *tasks.Task) error

// ChainTask composes task validators in order.
func ChainTask(validators ...TaskValidator) TaskValidator {
	return func(t *tasks.Task) error {
		for _, v := range validators {
			if err := v(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// TaskExists validates that a lookup actually found a task.
func TaskExists() TaskValidator {
	return func(t *tasks.Task) error {
		if t == nil {
			return fmt.Errorf("task not found")
		}
		return nil
	}
}

// NotCompleted rejects further phase transitions on a task that has
// already finished (spec.md §4.8: completion is terminal).
func NotCompleted() TaskValidator {
	return func(t *tasks.Task) error {
		if t != nil && t.Status == tasks.StatusCompleted {
			return fmt.Errorf("task %s is already completed", t.ID)
		}
		return nil
	}
}

// PhaseTransition validates that moving from t's current phase to
// target is a legal edge in the lifecycle DAG.
func PhaseTransition(target tasks.Phase) TaskValidator {
	return func(t *tasks.Task) error {
		if t == nil {
			return nil
		}
		if !tasks.ValidTransition(t.Phase, target) {
			return fmt.Errorf("task %s cannot move from %s to %s", t.ID, t.Phase, target)
		}
		return nil
	}
}

// ReadyToComplete validates that t's current phase is a terminal
// phase eligible for completion (spec.md §4.8: VALIDATOR, REVIEWER, or
// DOCUMENTER).
func ReadyToComplete() TaskValidator {
	return func(t *tasks.Task) error {
		if t == nil {
			return nil
		}
		if !tasks.CanComplete(t.Phase) {
			return fmt.Errorf("task %s cannot complete from phase %s", t.ID, t.Phase)
		}
		return nil
	}
}

// ForUpdate returns the validator chain applied before a phase
// transition: the task must exist and not already be completed.
func ForUpdate() TaskValidator {
	return ChainTask(TaskExists(), NotCompleted())
}

// ForComplete returns the validator chain applied before completion:
// the task must exist and be in a phase that allows completing.
func ForComplete() TaskValidator {
	return ChainTask(TaskExists(), ReadyToComplete())
}
