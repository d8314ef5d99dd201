package actions

import (
	"encoding/json"
	"fmt"
)

// ActionState is the lifecycle tag carried by every action.
type ActionState string

const (
	// StatePlanned indicates the action was constructed and nothing was done.
	StatePlanned ActionState = "planned"

	// StateCompleted indicates Execute succeeded.
	StateCompleted ActionState = "completed"

	// StateReverted indicates Revert succeeded after the action completed.
	StateReverted ActionState = "reverted"
)

// Validate checks if the state is one of the known values.
func (s ActionState) Validate() error {
	switch s {
	case StatePlanned, StateCompleted, StateReverted:
		return nil
	default:
		return fmt.Errorf("invalid action state: %q", string(s))
	}
}

// UnmarshalJSON rejects unknown states and treats an absent state as planned.
func (s *ActionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = StatePlanned
		return nil
	}
	state := ActionState(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}

// Operation names the direction an action is driven in.
type Operation string

const (
	OperationExecute Operation = "execute"
	OperationRevert  Operation = "revert"
)

// CheckExecute returns an *InvalidStateError unless state permits Execute.
func CheckExecute(kind Kind, state ActionState) error {
	if state != StatePlanned {
		return &InvalidStateError{Kind: kind, Operation: OperationExecute, State: state}
	}
	return nil
}

// CheckRevert returns an *InvalidStateError unless state permits Revert.
func CheckRevert(kind Kind, state ActionState) error {
	if state != StateCompleted {
		return &InvalidStateError{Kind: kind, Operation: OperationRevert, State: state}
	}
	return nil
}

// CheckRevertable is CheckRevert for actions that can make partial progress:
// a planned action that reports progress through Progressor may be reverted
// as well.
func CheckRevertable(a Actionable) error {
	if a.ActionState() == StatePlanned && HasProgress(a) {
		return nil
	}
	return CheckRevert(a.Kind(), a.ActionState())
}
