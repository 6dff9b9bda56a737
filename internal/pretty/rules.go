package pretty

// DefaultIndentSize is used when Rules.IndentSize is not positive.
const DefaultIndentSize = 2

// DefaultUnformatted lists the elements whose contents are copied verbatim.
var DefaultUnformatted = []string{"pre", "code", "textarea", "script", "style"}

// Rules configures the formatter. The tidy engine hands them through
// untouched; only Format interprets them.
type Rules struct {
	// OCD strips trailing whitespace, collapses blank-line runs and ends
	// non-empty output with a single newline.
	OCD bool `yaml:"ocd"`
	// IndentSize is the number of spaces per nesting level.
	IndentSize int `yaml:"indent_size,omitempty"`
	// Unformatted names elements whose markup is emitted as written.
	Unformatted []string `yaml:"unformatted,omitempty"`
	// Extra holds settings for other transforms.
	Extra map[string]any `yaml:",inline"`
}

// DefaultRules returns the rules used when none are configured.
func DefaultRules() Rules {
	return Rules{OCD: true}
}

func (r Rules) indentSize() int {
	if r.IndentSize <= 0 {
		return DefaultIndentSize
	}
	return r.IndentSize
}

func (r Rules) unformatted() map[string]bool {
	names := r.Unformatted
	if len(names) == 0 {
		names = DefaultUnformatted
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
