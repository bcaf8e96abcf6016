// Package fieldmap assigns collision-free short field names for datasets
// bound for the shapefile interchange format, whose attribute names are
// capped at 10 ASCII characters.
package fieldmap

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLen is the interchange format's attribute-name length ceiling.
const MaxNameLen = 10

// maxProbes is how many numbered candidates are tried for a colliding name
// before the mapping is declared exhausted.
const maxProbes = 98

// ErrMappingExhausted is returned when a field name collides with every
// numbered candidate. Silently reusing a colliding name would corrupt the
// exported schema, so this is always surfaced as an error.
var ErrMappingExhausted = errors.New("field name mapping exhausted")

// Mapping is a total, injective function from original field names to short
// names. It is a pure function of its inputs: the same priority list and
// field order always produce the same mapping.
type Mapping struct {
	byOriginal map[string]string
	originals  []string // assignment order, priority names first
}

// Build produces a mapping covering every name in fields. Names listed in
// priority (the variables the analysis actually uses) are assigned first, in
// the given order, so they get the cleanest short names; remaining fields
// follow in their natural order.
func Build(fields []string, priority []string) (*Mapping, error) {
	m := &Mapping{byOriginal: make(map[string]string, len(fields))}
	used := make(map[string]bool, len(fields))

	assign := func(name string) error {
		if _, ok := m.byOriginal[name]; ok {
			return nil
		}
		short, err := shorten(name, used)
		if err != nil {
			return fmt.Errorf("%w: %q", err, name)
		}
		m.byOriginal[name] = short
		m.originals = append(m.originals, name)
		used[short] = true
		return nil
	}

	for _, name := range priority {
		if err := assign(name); err != nil {
			return nil, err
		}
	}
	for _, name := range fields {
		if err := assign(name); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Short returns the short name assigned to an original field name.
func (m *Mapping) Short(original string) (string, bool) {
	s, ok := m.byOriginal[original]
	return s, ok
}

// Originals returns the original names in assignment order.
func (m *Mapping) Originals() []string {
	out := make([]string, len(m.originals))
	copy(out, m.originals)
	return out
}

// Len returns the number of mapped names.
func (m *Mapping) Len() int {
	return len(m.byOriginal)
}

// shorten picks the first unused candidate for name: the sanitized first 10
// characters, then numbered probes built from a prefix trimmed so the whole
// candidate stays within the length ceiling.
func shorten(name string, used map[string]bool) (string, error) {
	s := sanitize(name)

	candidate := truncate(s, MaxNameLen)
	if !used[candidate] {
		return candidate, nil
	}

	for n := 1; n <= maxProbes; n++ {
		suffix := fmt.Sprintf("_%d", n)
		candidate := truncate(s, MaxNameLen-len(suffix)) + suffix
		if !used[candidate] {
			return candidate, nil
		}
	}

	return "", ErrMappingExhausted
}

// sanitize replaces every character outside the interchange format's safe
// set (ASCII letters, digits, underscore) with an underscore. Empty names
// get a placeholder so the probe loop has something to number.
func sanitize(name string) string {
	if name == "" {
		return "field"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
