package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		noRootIDsPolicy(),
		disjointBuildIDsPolicy(),
		systemIDRangePolicy(),
		verifiedFetchPolicy(),
		storeLocationPolicy(),
	}
}

// noRootIDsPolicy rejects build accounts sharing root's ids.
func noRootIDsPolicy() Policy {
	return Policy{
		Name:        "no-root-ids",
		Description: "Build users and the build group must not use id 0",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package nixinstaller.policies.rootids

import rego.v1

deny contains violation if {
	some i, a in input.plan.actions
	a.action == "create_users_and_group"
	a.create_group.gid == 0
	violation := {
		"message": sprintf("build group %s must not use gid 0", [a.create_group.name]),
		"action": i,
	}
}

deny contains violation if {
	some i, a in input.plan.actions
	a.action == "create_users_and_group"
	some u in a.create_users
	u.uid == 0
	violation := {
		"message": sprintf("build user %s must not use uid 0", [u.name]),
		"action": i,
	}
}
`,
	}
}

// disjointBuildIDsPolicy rejects plans whose group id lies in the user range.
func disjointBuildIDsPolicy() Policy {
	return Policy{
		Name:        "disjoint-build-ids",
		Description: "The build group id must fall outside the build user uid range",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package nixinstaller.policies.disjoint

import rego.v1

deny contains violation if {
	some i, a in input.plan.actions
	a.action == "create_users_and_group"
	gid := a.create_group.gid
	some u in a.create_users
	u.uid == gid
	violation := {
		"message": sprintf("build group gid %v is also the uid of build user %s", [gid, u.name]),
		"action": i,
	}
}
`,
	}
}

// systemIDRangePolicy warns about build accounts among system ids.
func systemIDRangePolicy() Policy {
	return Policy{
		Name:        "system-id-range",
		Description: "Build accounts below id 1000 may collide with distribution system accounts",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package nixinstaller.policies.idrange

import rego.v1

deny contains violation if {
	some i, a in input.plan.actions
	a.action == "create_users_and_group"
	a.nix_build_user_id_base < 1000
	violation := {
		"message": sprintf("build users start at uid %v, inside the system account range", [a.nix_build_user_id_base]),
		"action": i,
	}
}
`,
	}
}

// verifiedFetchPolicy warns about unauthenticated, unverified downloads.
func verifiedFetchPolicy() Policy {
	return Policy{
		Name:        "verified-fetch",
		Description: "Nix fetched over plain HTTP should be pinned by checksum",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package nixinstaller.policies.fetch

import rego.v1

deny contains violation if {
	some i, a in input.plan.actions
	a.action == "fetch_nix"
	startswith(a.url, "http://")
	not a.sha256
	violation := {
		"message": sprintf("%s is fetched over http without a sha256", [a.url]),
		"action": i,
	}
}
`,
	}
}

// storeLocationPolicy flags stores outside /nix.
func storeLocationPolicy() Policy {
	return Policy{
		Name:        "store-location",
		Description: "Binary caches only serve store paths under /nix",
		Severity:    SeverityInfo,
		Enabled:     true,
		Rego: `package nixinstaller.policies.store

import rego.v1

deny contains violation if {
	input.plan.settings.nix_root != "/nix"
	violation := {
		"message": sprintf("store root %s will not be substituted from binary caches", [input.plan.settings.nix_root]),
	}
}
`,
	}
}
