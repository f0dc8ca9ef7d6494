package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity classifies the risk of a command type and drives autonomy gating.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity parses a severity string (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// AtLeast reports whether s is at or above other on the low<medium<high scale.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	default:
		return -1
	}
}

// Param kinds. Enum params must declare Options.
const (
	KindString = "string"
	KindEnum   = "enum"
)

// ParamSpec describes one parameter of a command type.
type ParamSpec struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Required bool     `yaml:"required"`
	Options  []string `yaml:"options,omitempty"`
}

// CommandSchema is the registry entry for one command type.
type CommandSchema struct {
	Type     string      `yaml:"-"`
	Severity Severity    `yaml:"-"`
	Params   []ParamSpec `yaml:"params"`
	// Blocked marks a type permanently denied regardless of severity.
	Blocked bool `yaml:"blocked,omitempty"`
}

// Registry is the static table of command types. Immutable after Load;
// changes require a process restart.
type Registry struct {
	schemas map[string]CommandSchema
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Commands map[string]struct {
		Severity string      `yaml:"severity"`
		Params   []ParamSpec `yaml:"params"`
		Blocked  bool        `yaml:"blocked,omitempty"`
	} `yaml:"commands"`
}

// Load reads a command registry from a YAML file and validates it.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(file.Commands) == 0 {
		return nil, fmt.Errorf("registry declares no commands")
	}

	schemas := make(map[string]CommandSchema, len(file.Commands))
	for name, entry := range file.Commands {
		typ := strings.ToUpper(strings.TrimSpace(name))
		if typ == "" {
			return nil, fmt.Errorf("registry contains an empty command type")
		}
		if _, dup := schemas[typ]; dup {
			return nil, fmt.Errorf("duplicate command type %q", typ)
		}
		sev, err := ParseSeverity(entry.Severity)
		if err != nil {
			return nil, fmt.Errorf("command %s: %w", typ, err)
		}
		seen := make(map[string]bool, len(entry.Params))
		for _, p := range entry.Params {
			if p.Name == "" {
				return nil, fmt.Errorf("command %s: param with empty name", typ)
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("command %s: duplicate param %q", typ, p.Name)
			}
			seen[p.Name] = true
			switch p.Kind {
			case KindString:
				// no extra constraints
			case KindEnum:
				if len(p.Options) == 0 {
					return nil, fmt.Errorf("command %s: enum param %q declares no options", typ, p.Name)
				}
			default:
				return nil, fmt.Errorf("command %s: param %q has unknown kind %q", typ, p.Name, p.Kind)
			}
		}
		schemas[typ] = CommandSchema{
			Type:     typ,
			Severity: sev,
			Params:   entry.Params,
			Blocked:  entry.Blocked,
		}
	}
	return &Registry{schemas: schemas}, nil
}

// Lookup returns the schema for a command type, if registered.
func (r *Registry) Lookup(commandType string) (CommandSchema, bool) {
	s, ok := r.schemas[strings.ToUpper(strings.TrimSpace(commandType))]
	return s, ok
}

// Types returns the registered command types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered command types.
func (r *Registry) Len() int {
	return len(r.schemas)
}
