package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks params against the schema's ParamSpecs. Failures are
// returned in ParamSpec order, with unknown-parameter failures appended in
// name order. An empty slice means the params are valid.
func (s CommandSchema) Validate(params map[string]string) []FieldError {
	var failures []FieldError

	for _, spec := range s.Params {
		value, present := params[spec.Name]
		if !present || strings.TrimSpace(value) == "" {
			if spec.Required {
				failures = append(failures, FieldError{Field: spec.Name, Reason: "is required"})
			}
			continue
		}
		if spec.Kind == KindEnum && !contains(spec.Options, value) {
			failures = append(failures, FieldError{
				Field:  spec.Name,
				Reason: fmt.Sprintf("must be one of [%s], got %q", strings.Join(spec.Options, ", "), value),
			})
		}
	}

	known := make(map[string]bool, len(s.Params))
	for _, spec := range s.Params {
		known[spec.Name] = true
	}
	var unknown []string
	for name := range params {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		failures = append(failures, FieldError{Field: name, Reason: "is not a recognized parameter"})
	}

	return failures
}

// FailureText renders field errors as a single rationale string, e.g.
// "Validation failed: client must be one of [...], got "acme"".
func FailureText(failures []FieldError) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.String()
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
