package plan

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/actions/base"
	"github.com/openfroyo/nixinstaller/pkg/actions/meta"
	"github.com/openfroyo/nixinstaller/pkg/config"
)

// Version is the plan document version this build reads and writes.
const Version = 1

// InstallPlan is an ordered list of actions plus the settings they were
// planned from.
type InstallPlan struct {
	Version   int                    `json:"version"`
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Settings  config.InstallSettings `json:"settings"`
	Actions   []Action               `json:"actions"`
}

// New validates settings and plans the install they describe. Planning is
// pure: nothing on any host is inspected or changed.
func New(ctx context.Context, settings config.InstallSettings) (*InstallPlan, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	usersAndGroup, err := meta.PlanCreateUsersAndGroup(settings)
	if err != nil {
		return nil, err
	}
	treeDirs, err := base.PlanCreateNixTreeDirs(settings.NixRoot)
	if err != nil {
		return nil, err
	}
	fetch, err := base.PlanFetchNix(settings.NixPackageURL, settings.NixPackageSHA256,
		path.Join(settings.NixRoot, "temp-install-dir"))
	if err != nil {
		return nil, err
	}
	conf, err := base.PlanPlaceNixConfiguration(settings.NixConfPath, settings.NixBuildGroupName, settings.ExtraConf)
	if err != nil {
		return nil, err
	}

	steps := []actions.Actionable{usersAndGroup, treeDirs, fetch, conf}
	if settings.StartDaemon {
		daemon, err := base.PlanConfigureNixDaemonService(
			path.Join(settings.NixRoot, "var/nix/profiles/default/lib/systemd/system"), true)
		if err != nil {
			return nil, err
		}
		steps = append(steps, daemon)
	}

	p := &InstallPlan{
		Version:   Version,
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Settings:  settings,
		Actions:   make([]Action, len(steps)),
	}
	for i, s := range steps {
		p.Actions[i] = Wrap(s)
	}

	zerolog.Ctx(ctx).Debug().
		Str("plan_id", p.ID).
		Int("actions", len(p.Actions)).
		Msg("planned install")
	return p, nil
}

// Describe returns the descriptions of every action, in plan order.
func (p *InstallPlan) Describe() []actions.ActionDescription {
	var out []actions.ActionDescription
	for _, a := range p.Actions {
		out = append(out, a.Describe()...)
	}
	return out
}

// Pending returns the descriptions of actions Install would still run.
func (p *InstallPlan) Pending() []actions.ActionDescription {
	var out []actions.ActionDescription
	for _, a := range p.Actions {
		if a.ActionState() == actions.StatePlanned {
			out = append(out, a.Describe()...)
		}
	}
	return out
}

// Revertible returns the descriptions of actions Revert would undo, in the
// order it would undo them.
func (p *InstallPlan) Revertible() []actions.ActionDescription {
	var out []actions.ActionDescription
	for i := len(p.Actions) - 1; i >= 0; i-- {
		if actions.HasProgress(p.Actions[i]) {
			out = append(out, p.Actions[i].Describe()...)
		}
	}
	return out
}

// Receipts returns the receipts of every action that recorded one, in plan
// order.
func (p *InstallPlan) Receipts() []actions.Receipt {
	var out []actions.Receipt
	for _, a := range p.Actions {
		if r, ok := a.Actionable.(actions.Receipter); ok {
			out = append(out, r.Receipts()...)
		}
	}
	return out
}

// Status summarizes how far the plan got.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusReverted  Status = "reverted"
)

// Status reports the aggregate state of the plan's actions.
func (p *InstallPlan) Status() Status {
	counts := map[actions.ActionState]int{}
	progress := false
	for _, a := range p.Actions {
		counts[a.ActionState()]++
		if actions.HasProgress(a) {
			progress = true
		}
	}
	switch n := len(p.Actions); {
	case counts[actions.StateCompleted] == n:
		return StatusCompleted
	case counts[actions.StateReverted] > 0 && !progress:
		return StatusReverted
	case !progress && counts[actions.StateReverted] == 0:
		return StatusPlanned
	default:
		return StatusPartial
	}
}
