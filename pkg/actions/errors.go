package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InvalidStateError is returned when Execute or Revert is called from a
// state that does not permit it.
type InvalidStateError struct {
	Kind      Kind        `json:"kind"`
	Operation Operation   `json:"operation"`
	State     ActionState `json:"state"`
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s from state %s", e.Operation, e.Kind, e.State)
}

// MarshalJSON implements json.Marshaler.
func (e *InvalidStateError) MarshalJSON() ([]byte, error) {
	type alias InvalidStateError
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		*alias
	}{Type: "invalid_state", Message: e.Error(), alias: (*alias)(e)})
}

// MultipleErrors aggregates the failures of two or more concurrent children.
type MultipleErrors struct {
	Errors []error
}

// Error implements the error interface. Child messages are joined with " & ".
func (e *MultipleErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "Multiple errors: " + strings.Join(msgs, " & ")
}

// Unwrap returns the child errors for errors.Is and errors.As.
func (e *MultipleErrors) Unwrap() []error {
	return e.Errors
}

// MarshalJSON implements json.Marshaler.
func (e *MultipleErrors) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, len(e.Errors))
	for i, err := range e.Errors {
		children[i] = ErrorJSON(err)
	}
	return json.Marshal(struct {
		Type    string            `json:"type"`
		Message string            `json:"message"`
		Errors  []json.RawMessage `json:"errors"`
	}{Type: "multiple", Message: e.Error(), Errors: children})
}

// JoinError reports a concurrent task that panicked instead of returning.
// It is never aggregated with ordinary task errors.
type JoinError struct {
	// Index is the origin index of the task that panicked.
	Index int `json:"index"`

	// Panic is the recovered value rendered as a string.
	Panic string `json:"panic"`

	// Stack is the goroutine stack captured at recovery.
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *JoinError) Error() string {
	return fmt.Sprintf("task %d panicked: %s", e.Index, e.Panic)
}

// MarshalJSON implements json.Marshaler.
func (e *JoinError) MarshalJSON() ([]byte, error) {
	type alias JoinError
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		*alias
	}{Type: "join", Message: e.Error(), alias: (*alias)(e)})
}

// CollapseErrors reduces task errors to nil, the single error unchanged, or
// a *MultipleErrors holding all of them. Nil entries are ignored.
func CollapseErrors(errs []error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &MultipleErrors{Errors: kept}
	}
}

// ErrorJSON renders err as JSON. Errors implementing json.Marshaler render
// themselves; anything else becomes {"message": ...} with its unwrapped
// cause attached.
func ErrorJSON(err error) json.RawMessage {
	if err == nil {
		return json.RawMessage("null")
	}
	if m, ok := err.(json.Marshaler); ok {
		if data, mErr := m.MarshalJSON(); mErr == nil {
			return data
		}
	}

	doc := struct {
		Message string          `json:"message"`
		Cause   json.RawMessage `json:"cause,omitempty"`
	}{Message: err.Error()}
	if cause := errors.Unwrap(err); cause != nil {
		doc.Cause = ErrorJSON(cause)
	}

	data, mErr := json.Marshal(doc)
	if mErr != nil {
		return json.RawMessage(fmt.Sprintf("{%q:%q}", "message", err.Error()))
	}
	return data
}

// ActionError is the common shape of leaf action failures: the action that
// failed, the step it was on and the underlying cause.
type ActionError struct {
	Kind Kind
	// Subject names the object being mutated, e.g. a user or a path.
	Subject string
	// Op is the step that failed, e.g. "groupadd" or "lookup".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s `%s`: %s: %v", e.Kind, e.Subject, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler.
func (e *ActionError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    Kind            `json:"type"`
		Subject string          `json:"subject,omitempty"`
		Op      string          `json:"op"`
		Message string          `json:"message"`
		Cause   json.RawMessage `json:"cause,omitempty"`
	}{
		Type:    e.Kind,
		Subject: e.Subject,
		Op:      e.Op,
		Message: e.Error(),
		Cause:   ErrorJSON(e.Err),
	})
}
