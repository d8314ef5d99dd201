// Package policy gates plan execution on Open Policy Agent (OPA) policies.
//
// Before a plan runs, [Engine.Evaluate] hands the plan document to every
// enabled Rego policy as input.plan, alongside input.operation (execute or
// revert) and input.target. Each policy defines a deny set in its package;
// entries are strings or objects:
//
//	package site.policies.count
//
//	import rego.v1
//
//	deny contains violation if {
//	    some i, a in input.plan.actions
//	    a.action == "create_users_and_group"
//	    a.daemon_user_count > 64
//	    violation := {
//	        "message": "more build users than this fleet allows",
//	        "action": i,
//	        "severity": "error",
//	    }
//	}
//
// Violations with severity error or critical deny the plan; info and
// warning are reported only.
//
// # Built-in Policies
//
//  1. no-root-ids - build accounts must not use id 0 (critical)
//  2. disjoint-build-ids - the build group gid is no build user's uid (error)
//  3. system-id-range - build uids below 1000 (warning)
//  4. verified-fetch - plain http downloads without a sha256 (warning)
//  5. store-location - a store root other than /nix (info)
//
// # Custom Policies
//
// [Engine.LoadPolicies] accepts .rego and .json files and directories of
// them. A .rego file is named after its file; its leading comment block is
// the description and may set the default severity:
//
//	# Keep build users off shared uids.
//	# severity: error
//	package site.policies.uids
package policy
