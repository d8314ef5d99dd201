package base

import (
	"errors"

	"github.com/openfroyo/nixinstaller/pkg/actions"
)

// ErrConflict marks host state that contradicts what an action would create,
// such as an existing user with a different uid.
var ErrConflict = errors.New("conflicting pre-existing state")

// CreateGroupError reports a failure of CreateGroup.
type CreateGroupError struct{ actions.ActionError }

// CreateUserError reports a failure of CreateUser.
type CreateUserError struct{ actions.ActionError }

// CreateNixTreeDirsError reports a failure of CreateNixTreeDirs.
type CreateNixTreeDirsError struct{ actions.ActionError }

// FetchNixError reports a failure of FetchNix.
type FetchNixError struct{ actions.ActionError }

// PlaceNixConfigurationError reports a failure of PlaceNixConfiguration.
type PlaceNixConfigurationError struct{ actions.ActionError }

// ConfigureNixDaemonServiceError reports a failure of ConfigureNixDaemonService.
type ConfigureNixDaemonServiceError struct{ actions.ActionError }

func newActionError(kind actions.Kind, subject, op string, err error) actions.ActionError {
	return actions.ActionError{Kind: kind, Subject: subject, Op: op, Err: err}
}
