// Package policy checks resolved packages against Rego policies before the
// install proceeds.
//
// The Engine is an actions.Validator: InstallValidate hands it the package
// after feature and component states have been resolved, and any blocking
// violation fails the install.
//
// # Input
//
// Policies see an Input document:
//
//	{
//	  "product":        {"name": ..., "version": ...},
//	  "properties":     {"INSTALLLEVEL": "3", ...},
//	  "features":       [{"name", "parent", "level", "attributes", "installed", "request", "action", "components"}],
//	  "components":     [{"name", "attributes", "disabled", "force_local", "installed", "request", "action", "features", "size"}],
//	  "full_uninstall": false
//	}
//
// States are the lowercase names "unknown", "absent", "local", "source",
// "advertised" and "default".
//
// # Writing policies
//
// A policy is a Rego v1 module defining a deny set. Entries are either
// message strings or objects with message, subject and severity keys:
//
//	# Per-machine installs only
//	# severity: error
//	package site.allusers
//
//	import rego.v1
//
//	deny contains "installs must be per-machine" if {
//	    input.properties.ALLUSERS != "1"
//	}
//
// Leading comments of a .rego file become the policy description and a
// "severity:" comment sets its severity (default error). JSON descriptors
// carry the same fields as Policy.
//
// # Severity
//
// Violations of severity error or critical block the install. Warning and
// info violations are logged and reported as warnings.
//
// # Built-in policies
//
//   - permanent-components: installed permanent components are never removed
//   - source-only-components: source-only components do not resolve to local
//     unless the media forced it
//   - odbc-advertise: ODBC data source components cannot be advertised
//   - disallow-absent: warns when a ui_disallow_absent feature is removed
//     outside a full uninstall
//   - orphan-components: reports enabled components no feature refers to
//
// # Hot reload
//
// Engine.Watch reloads file policies whenever they change on disk.
// Built-in policies are never replaced.
package policy
