// Package plan holds the install plan: the ordered, serializable list of
// actions an install consists of, and the driver that executes it forward
// or reverts it backward.
//
// # Document
//
// A plan is persisted as a versioned JSON document:
//
//	{
//	  "version": 1,
//	  "id": "5f0e...",
//	  "created_at": "2026-10-18T09:00:00Z",
//	  "settings": {...},
//	  "actions": [
//	    {"action": "create_users_and_group", "action_state": "planned", ...},
//	    {"action": "create_nix_tree_dirs", "root": "/nix", ...}
//	  ]
//	}
//
// Each entry of "actions" is tagged with its kind under "action"; the rest
// of the object is the variant's own fields, including its state and, once
// executed, its receipt. Documents with another version or an unknown
// action kind are rejected.
//
// # Driving a plan
//
// [InstallPlan.Install] executes actions in order and stops at the first
// failure without undoing anything. [InstallPlan.Revert] walks the list
// backwards and reverts every action that made progress. Both accept
// [Observer] values that are told about every action as it starts and
// finishes, which is how runs are journaled and traced.
package plan
