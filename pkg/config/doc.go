// Package config loads and validates the settings an installer plan is
// built from.
//
// # Overview
//
// [InstallSettings] carries everything the planner consumes: the build group
// name and id, the build user prefix, base id and count, where to fetch Nix
// from and how to configure it. Values come from [DefaultSettings], are
// optionally overlaid by a settings file and finally by command line flags.
//
// # Sources
//
// Settings files are read by extension:
//
//   - .yaml, .yml: YAML, unknown keys rejected
//   - .json: JSON, unknown keys rejected
//   - .cue: CUE, unified with the built-in #Settings schema
//
// A CUE file can constrain as well as set values:
//
//	daemon_user_count: 16
//	nix_build_user_id_base: >=30000 & 30001
//	extra_conf: ["experimental-features = nix-command flakes"]
//
// # Validation
//
// [InstallSettings.Validate] applies validator struct tags, the #Settings
// schema and cross-field rules such as the build user uid range not
// overlapping the build group id. Errors from CUE carry file positions as
// [ValidationError] values.
package config
