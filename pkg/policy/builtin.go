package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		permanentComponentsPolicy(),
		sourceOnlyComponentsPolicy(),
		odbcAdvertisePolicy(),
		disallowAbsentPolicy(),
		orphanComponentsPolicy(),
	}
}

// permanentComponentsPolicy blocks removal of installed permanent components.
func permanentComponentsPolicy() Policy {
	return Policy{
		Name:        "permanent-components",
		Description: "Installed permanent components are never removed",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"components"},
		Rego: `package installengine.policies.permanent

import rego.v1

deny contains violation if {
	some c in input.components
	"permanent" in c.attributes
	c.installed in {"local", "source"}
	c.action == "absent"
	violation := {
		"message": sprintf("Permanent component %s cannot be removed", [c.name]),
		"subject": c.name,
	}
}
`,
	}
}

// sourceOnlyComponentsPolicy blocks copying source-only components locally
// unless the media forced it.
func sourceOnlyComponentsPolicy() Policy {
	return Policy{
		Name:        "source-only-components",
		Description: "Source-only components run from the installation source",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"components", "media"},
		Rego: `package installengine.policies.sourceonly

import rego.v1

deny contains violation if {
	some c in input.components
	"source_only" in c.attributes
	not c.force_local
	c.action == "local"
	violation := {
		"message": sprintf("Source-only component %s resolved to local", [c.name]),
		"subject": c.name,
	}
}
`,
	}
}

// odbcAdvertisePolicy blocks advertising ODBC data source components.
func odbcAdvertisePolicy() Policy {
	return Policy{
		Name:        "odbc-advertise",
		Description: "ODBC data source components cannot be advertised",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"components", "odbc"},
		Rego: `package installengine.policies.odbc

import rego.v1

deny contains violation if {
	some c in input.components
	"odbc_data_source" in c.attributes
	c.action == "advertised"
	violation := {
		"message": sprintf("ODBC data source component %s cannot be advertised", [c.name]),
		"subject": c.name,
	}
}
`,
	}
}

// disallowAbsentPolicy warns when a feature the UI may not remove is being
// removed outside a full uninstall.
func disallowAbsentPolicy() Policy {
	return Policy{
		Name:        "disallow-absent",
		Description: "Features marked ui_disallow_absent are only removed by a full uninstall",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"features"},
		Rego: `package installengine.policies.disallowabsent

import rego.v1

deny contains violation if {
	not input.full_uninstall
	some f in input.features
	"ui_disallow_absent" in f.attributes
	f.installed in {"local", "source", "advertised"}
	f.action == "absent"
	violation := {
		"message": sprintf("Feature %s is removed although it disallows removal", [f.name]),
		"subject": f.name,
	}
}
`,
	}
}

// orphanComponentsPolicy reports enabled components no feature refers to.
func orphanComponentsPolicy() Policy {
	return Policy{
		Name:        "orphan-components",
		Description: "Every enabled component belongs to a feature",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"components"},
		Rego: `package installengine.policies.orphans

import rego.v1

deny contains violation if {
	some c in input.components
	not c.disabled
	count(c.features) == 0
	violation := {
		"message": sprintf("Component %s belongs to no feature and is never installed", [c.name]),
		"subject": c.name,
	}
}
`,
	}
}
