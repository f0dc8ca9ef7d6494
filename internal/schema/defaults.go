package schema

// Default returns the built-in command registry. A registry file, when
// configured, replaces this entirely.
func Default() *Registry {
	return &Registry{schemas: map[string]CommandSchema{
		"SCAN_SITE": {
			Type:     "SCAN_SITE",
			Severity: SeverityLow,
			Params: []ParamSpec{
				{Name: "domain", Kind: KindString, Required: true},
			},
		},
		"PUBLISH_REPORT": {
			Type:     "PUBLISH_REPORT",
			Severity: SeverityMedium,
			Params: []ParamSpec{
				{Name: "client", Kind: KindEnum, Required: true, Options: []string{"globex", "initech", "stark"}},
				{Name: "dataset", Kind: KindString, Required: true},
				{Name: "format", Kind: KindEnum, Required: true, Options: []string{"pdf", "csv"}},
			},
		},
		"DISTRIBUTE_CONTENT": {
			Type:     "DISTRIBUTE_CONTENT",
			Severity: SeverityMedium,
			Params: []ParamSpec{
				{Name: "content_file", Kind: KindString, Required: true},
			},
		},
		"START_CAMPAIGN": {
			Type:     "START_CAMPAIGN",
			Severity: SeverityHigh,
			Params: []ParamSpec{
				{Name: "name", Kind: KindString, Required: true},
				{Name: "budget", Kind: KindString, Required: true},
				{Name: "channel", Kind: KindString, Required: false},
			},
		},
		"REFACTOR_CODE": {
			Type:     "REFACTOR_CODE",
			Severity: SeverityHigh,
			Params: []ParamSpec{
				{Name: "repo", Kind: KindString, Required: true},
				{Name: "target", Kind: KindString, Required: true},
			},
		},
		"PROVISION_INFRA": {
			Type:     "PROVISION_INFRA",
			Severity: SeverityHigh,
			Blocked:  true,
			Params: []ParamSpec{
				{Name: "resource", Kind: KindString, Required: true},
				{Name: "region", Kind: KindString, Required: true},
			},
		},
		"REVERT_ACTION": {
			Type:     "REVERT_ACTION",
			Severity: SeverityMedium,
			Params: []ParamSpec{
				{Name: "action_id", Kind: KindString, Required: true},
				{Name: "reason", Kind: KindString, Required: true},
			},
		},
	}}
}
