package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testRegistryYAML = `
commands:
  SCAN_SITE:
    severity: low
    params:
      - {name: domain, kind: string, required: true}
  PUBLISH_REPORT:
    severity: medium
    params:
      - {name: client, kind: enum, required: true, options: [globex, initech]}
      - {name: dataset, kind: string, required: true}
      - {name: format, kind: enum, required: true, options: [pdf, csv]}
  PROVISION_INFRA:
    severity: high
    blocked: true
    params:
      - {name: resource, kind: string, required: true}
`

func mustParse(t *testing.T, yaml string) *Registry {
	t.Helper()
	reg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return reg
}

func TestLoadRegistryFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "commands.yaml")
	if err := os.WriteFile(path, []byte(testRegistryYAML), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 command types, got %d", reg.Len())
	}

	s, ok := reg.Lookup("scan_site")
	if !ok {
		t.Fatal("Lookup should be case-insensitive")
	}
	if s.Severity != SeverityLow {
		t.Fatalf("unexpected severity: %s", s.Severity)
	}

	blocked, ok := reg.Lookup("PROVISION_INFRA")
	if !ok || !blocked.Blocked {
		t.Fatalf("PROVISION_INFRA should be policy-blocked: %#v", blocked)
	}

	if _, ok := reg.Lookup("LAUNCH_MISSILES"); ok {
		t.Fatal("unknown type should not resolve")
	}
}

func TestParseRegistryRejectsBadEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty registry",
			yaml: "commands: {}",
			want: "no commands",
		},
		{
			name: "bad severity",
			yaml: "commands:\n  X:\n    severity: extreme\n    params: []",
			want: "unknown severity",
		},
		{
			name: "enum without options",
			yaml: "commands:\n  X:\n    severity: low\n    params:\n      - {name: a, kind: enum, required: true}",
			want: "no options",
		},
		{
			name: "unknown kind",
			yaml: "commands:\n  X:\n    severity: low\n    params:\n      - {name: a, kind: number, required: true}",
			want: "unknown kind",
		},
		{
			name: "duplicate param",
			yaml: "commands:\n  X:\n    severity: low\n    params:\n      - {name: a, kind: string}\n      - {name: a, kind: string}",
			want: "duplicate param",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	reg := mustParse(t, testRegistryYAML)
	report, _ := reg.Lookup("PUBLISH_REPORT")

	tests := []struct {
		name     string
		params   map[string]string
		failures []string
	}{
		{
			name:   "valid",
			params: map[string]string{"client": "globex", "dataset": "q3_perf", "format": "pdf"},
		},
		{
			name:     "missing required",
			params:   map[string]string{"client": "globex"},
			failures: []string{"dataset", "format"},
		},
		{
			name:     "blank counts as missing",
			params:   map[string]string{"client": "globex", "dataset": "  ", "format": "pdf"},
			failures: []string{"dataset"},
		},
		{
			name:     "enum out of range",
			params:   map[string]string{"client": "acme", "dataset": "q3_perf", "format": "pdf"},
			failures: []string{"client"},
		},
		{
			name:     "unknown param",
			params:   map[string]string{"client": "globex", "dataset": "q3_perf", "format": "pdf", "mystery": "1"},
			failures: []string{"mystery"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := report.Validate(tt.params)
			if len(got) != len(tt.failures) {
				t.Fatalf("expected %d failures, got %#v", len(tt.failures), got)
			}
			for i, field := range tt.failures {
				if got[i].Field != field {
					t.Fatalf("failure %d: expected field %q, got %q (%s)", i, field, got[i].Field, got[i].Reason)
				}
			}
		})
	}
}

func TestValidateFailureOrderFollowsSpecs(t *testing.T) {
	t.Parallel()

	reg := mustParse(t, testRegistryYAML)
	report, _ := reg.Lookup("PUBLISH_REPORT")

	failures := report.Validate(map[string]string{})
	if len(failures) != 3 {
		t.Fatalf("expected 3 failures, got %#v", failures)
	}
	for i, want := range []string{"client", "dataset", "format"} {
		if failures[i].Field != want {
			t.Fatalf("failure %d: expected %q, got %q", i, want, failures[i].Field)
		}
	}
}

func TestFailureText(t *testing.T) {
	t.Parallel()

	text := FailureText([]FieldError{{Field: "client", Reason: "is required"}})
	if text != "Validation failed: client is required" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	reg := Default()
	for _, typ := range []string{"SCAN_SITE", "PUBLISH_REPORT", "DISTRIBUTE_CONTENT", "START_CAMPAIGN", "REFACTOR_CODE", "PROVISION_INFRA", "REVERT_ACTION"} {
		if _, ok := reg.Lookup(typ); !ok {
			t.Fatalf("default registry missing %s", typ)
		}
	}

	infra, _ := reg.Lookup("PROVISION_INFRA")
	if !infra.Blocked {
		t.Fatal("PROVISION_INFRA should be policy-blocked by default")
	}
}

func TestSeverityAtLeast(t *testing.T) {
	t.Parallel()

	if !SeverityHigh.AtLeast(SeverityMedium) {
		t.Fatal("high should be at least medium")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Fatal("low should not be at least medium")
	}
}
