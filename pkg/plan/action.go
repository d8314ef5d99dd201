package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/actions/base"
	"github.com/openfroyo/nixinstaller/pkg/actions/meta"
)

// ErrUnknownAction is returned when a document names an action kind this
// build does not know.
var ErrUnknownAction = errors.New("unknown action")

// tagField is the key carrying the variant tag in a serialized action.
const tagField = "action"

// Action is one entry of a plan: any of the concrete action variants.
type Action struct {
	actions.Actionable
}

// Wrap returns an Action holding a.
func Wrap(a actions.Actionable) Action {
	return Action{Actionable: a}
}

// newVariant returns a zero value of the variant registered for kind.
func newVariant(kind actions.Kind) (actions.Actionable, error) {
	switch kind {
	case actions.KindCreateGroup:
		return &base.CreateGroup{}, nil
	case actions.KindCreateUser:
		return &base.CreateUser{}, nil
	case actions.KindCreateUsersAndGroup:
		return &meta.CreateUsersAndGroup{}, nil
	case actions.KindCreateNixTreeDirs:
		return &base.CreateNixTreeDirs{}, nil
	case actions.KindFetchNix:
		return &base.FetchNix{}, nil
	case actions.KindPlaceNixConfiguration:
		return &base.PlaceNixConfiguration{}, nil
	case actions.KindConfigureNixDaemonService:
		return &base.ConfigureNixDaemonService{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, kind)
	}
}

// MarshalJSON implements json.Marshaler.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Actionable == nil {
		return nil, fmt.Errorf("cannot encode empty action")
	}
	if _, err := newVariant(a.Kind()); err != nil {
		return nil, err
	}
	return marshalTagged(tagField, string(a.Kind()), a.Actionable)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind actions.Kind `json:"action"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Kind == "" {
		return fmt.Errorf("action is missing its %q tag", tagField)
	}

	variant, err := newVariant(tag.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, variant); err != nil {
		return fmt.Errorf("failed to decode %s action: %w", tag.Kind, err)
	}
	a.Actionable = variant
	return nil
}

// marshalTagged encodes v as a JSON object and prepends key: tag to it.
func marshalTagged(key, tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s %q does not encode as an object", key, tag)
	}

	head, err := json.Marshal(map[string]string{key: tag})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
