package plan

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/actions/base"
)

// Receipt is a serializable receipt of any action kind, tagged under
// "receipt" the same way actions are tagged under "action".
type Receipt struct {
	actions.Receipt
}

func newReceipt(kind actions.Kind) (actions.Receipt, error) {
	switch kind {
	case actions.KindCreateGroup:
		return &base.CreateGroupReceipt{}, nil
	case actions.KindCreateUser:
		return &base.CreateUserReceipt{}, nil
	case actions.KindCreateNixTreeDirs:
		return &base.CreateNixTreeDirsReceipt{}, nil
	case actions.KindFetchNix:
		return &base.FetchNixReceipt{}, nil
	case actions.KindPlaceNixConfiguration:
		return &base.PlaceNixConfigurationReceipt{}, nil
	case actions.KindConfigureNixDaemonService:
		return &base.ConfigureNixDaemonServiceReceipt{}, nil
	default:
		return nil, fmt.Errorf("%w receipt %q", ErrUnknownAction, kind)
	}
}

// MarshalJSON implements json.Marshaler.
func (r Receipt) MarshalJSON() ([]byte, error) {
	if r.Receipt == nil {
		return nil, fmt.Errorf("cannot encode empty receipt")
	}
	return marshalTagged("receipt", string(r.ReceiptKind()), r.Receipt)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind actions.Kind `json:"receipt"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	rec, err := newReceipt(tag.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return fmt.Errorf("failed to decode %s receipt: %w", tag.Kind, err)
	}
	r.Receipt = rec
	return nil
}
