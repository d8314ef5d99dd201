// Package actions defines the contract shared by every installer step.
//
// # Overview
//
// An action is one discrete, describable and revertible system mutation.
// Every concrete action, whether a leaf that talks to the host directly or
// a composite that owns child actions, satisfies [Actionable]:
//
//	Describe()  -> what will happen, for confirmation
//	Execute()   -> perform the mutation, recording a receipt
//	Revert()    -> undo exactly what the receipt says was done
//
// # Lifecycle
//
// Each action carries an [ActionState]:
//
//	planned --Execute--> completed --Revert--> reverted
//
// Execute is only valid from planned and Revert only from completed;
// the helpers [CheckExecute] and [CheckRevert] reject anything else with an
// [*InvalidStateError]. A failed Execute or Revert leaves the state where it
// was, while any children or receipts keep the progress they made, so a
// partially applied action stays inspectable and revertible.
//
// # Concurrency
//
// [RunConcurrently] is the fan-out primitive used by composites: it runs K
// independent tasks on their own goroutines, returns their outcomes keyed by
// origin index and reports a panicking task as a [*JoinError].
// [CollapseErrors] turns the per-task errors into nil, the single error
// itself, or a [*MultipleErrors].
package actions
