package config

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnyEnv allows every environment.
const AnyEnv = "*"

type allowKind int

const (
	allowDisabled allowKind = iota
	allowAny
	allowScalar
	allowList
)

// AllowList decides which build environments are tidied. It is either "*",
// a single environment name, or a list of names. The zero value is
// disabled, which gates nothing.
type AllowList struct {
	kind  allowKind
	names []string
}

// Any returns an allow-list matching every environment.
func Any() AllowList {
	return AllowList{kind: allowAny}
}

// Only returns an allow-list matching exactly one environment. An empty
// name leaves the allow-list unset.
func Only(env string) AllowList {
	if env == "" {
		return AllowList{}
	}
	if env == AnyEnv {
		return Any()
	}
	return AllowList{kind: allowScalar, names: []string{env}}
}

// List returns an allow-list matching any of names. An empty list matches nothing.
func List(names ...string) AllowList {
	return AllowList{kind: allowList, names: append([]string{}, names...)}
}

// ParseAllowList parses the flag form: "*", a single name, or a comma
// separated list of names.
func ParseAllowList(s string) AllowList {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ",") {
		return Only(s)
	}
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return List(names...)
}

// IsSet reports whether the allow-list was configured.
func (a AllowList) IsSet() bool {
	return a.kind != allowDisabled
}

// Names returns a copy of the configured environment names.
func (a AllowList) Names() []string {
	return slices.Clone(a.names)
}

// Allows reports whether env passes the gate.
func (a AllowList) Allows(env string) bool {
	switch a.kind {
	case allowDisabled, allowAny:
		return true
	case allowScalar:
		return a.names[0] == env
	default:
		return slices.Contains(a.names, env)
	}
}

// String renders the allow-list for logs.
func (a AllowList) String() string {
	switch a.kind {
	case allowDisabled:
		return "disabled"
	case allowAny:
		return AnyEnv
	case allowScalar:
		return a.names[0]
	default:
		return "[" + strings.Join(a.names, ",") + "]"
	}
}

// UnmarshalYAML accepts a scalar ("*" or a name) or a sequence of names.
func (a *AllowList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*a = Only(s)
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*a = List(names...)
		return nil
	default:
		return fmt.Errorf("allowed_envs must be a string or a list of strings (line %d)", value.Line)
	}
}
