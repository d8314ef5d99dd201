package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfroyo/nixinstaller/pkg/actions"
)

// ErrUnsupportedVersion is returned for plan documents of another version.
var ErrUnsupportedVersion = errors.New("unsupported plan version")

// ErrInvalidAction is returned for actions whose decoded form is incomplete.
var ErrInvalidAction = errors.New("invalid action")

// Encode writes p to w as an indented JSON document.
func Encode(w io.Writer, p *InstallPlan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return nil
}

// Decode reads a plan document from r.
func Decode(r io.Reader) (*InstallPlan, error) {
	var p InstallPlan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w %d, expected %d", ErrUnsupportedVersion, p.Version, Version)
	}
	for i, a := range p.Actions {
		if a.Actionable == nil {
			return nil, fmt.Errorf("action %d is empty", i)
		}
		if err := a.ActionState().Validate(); err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Kind(), err)
		}
		if v, ok := a.Actionable.(actions.Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("%w: action %d (%s): %v", ErrInvalidAction, i, a.Kind(), err)
			}
		}
	}
	return &p, nil
}

// Marshal returns the document form of p.
func Marshal(p *InstallPlan) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Load reads a plan document from path. A path of "-" reads stdin.
func Load(path string) (*InstallPlan, error) {
	if path == "-" || path == "" {
		return Decode(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Save writes p to path, replacing any existing file only once the new
// content is fully written. A path of "-" writes stdout.
func Save(path string, p *InstallPlan) error {
	if path == "-" || path == "" {
		return Encode(os.Stdout, p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, p); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// States returns the state of every action, in plan order.
func (p *InstallPlan) States() []actions.ActionState {
	out := make([]actions.ActionState, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = a.ActionState()
	}
	return out
}
