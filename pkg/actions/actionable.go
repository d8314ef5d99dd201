package actions

import (
	"context"
	"fmt"

	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// Kind identifies a concrete action variant. It doubles as the tag of the
// serialized plan document.
type Kind string

const (
	KindCreateGroup               Kind = "create_group"
	KindCreateUser                Kind = "create_user"
	KindCreateUsersAndGroup       Kind = "create_users_and_group"
	KindCreateNixTreeDirs         Kind = "create_nix_tree_dirs"
	KindFetchNix                  Kind = "fetch_nix"
	KindPlaceNixConfiguration     Kind = "place_nix_configuration"
	KindConfigureNixDaemonService Kind = "configure_nix_daemon_service"
)

// ActionDescription is the human readable intent of an action.
type ActionDescription struct {
	Description string   `json:"description"`
	Explanation []string `json:"explanation,omitempty"`
}

// NewDescription builds an ActionDescription.
func NewDescription(description string, explanation ...string) ActionDescription {
	return ActionDescription{Description: description, Explanation: explanation}
}

// String renders the headline followed by indented explanation lines.
func (d ActionDescription) String() string {
	s := d.Description
	for _, line := range d.Explanation {
		s += fmt.Sprintf("\n  %s", line)
	}
	return s
}

// Actionable is implemented by every concrete action.
type Actionable interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Describe is side-effect free and is used to render a confirmation.
	Describe() []ActionDescription

	// Execute performs the mutation. It is only valid from StatePlanned.
	Execute(ctx context.Context, target transports.Target) error

	// Revert undoes a completed Execute using the recorded receipt. It is
	// only valid from StateCompleted.
	Revert(ctx context.Context, target transports.Target) error

	// ActionState returns the current lifecycle state.
	ActionState() ActionState
}

// Progressor is implemented by actions that can make partial progress
// while still reporting StatePlanned, such as composites whose children
// partially completed. Such an action is revertible from StatePlanned when
// HasProgress reports true.
type Progressor interface {
	HasProgress() bool
}

// HasProgress reports whether a has anything a Revert could undo.
func HasProgress(a Actionable) bool {
	switch a.ActionState() {
	case StateCompleted:
		return true
	case StateReverted:
		return false
	}
	if p, ok := a.(Progressor); ok {
		return p.HasProgress()
	}
	return false
}

// Receipt is the recorded outcome of a completed action. It is sufficient
// on its own to drive Revert.
type Receipt interface {
	ReceiptKind() Kind
}

// Receipter is implemented by actions that expose their receipts.
// Composites return the receipts of their completed children.
type Receipter interface {
	Receipts() []Receipt
}

// Validator is implemented by actions whose decoded form carries structure
// that must hold before the action can be executed or reverted.
type Validator interface {
	Validate() error
}
