// Package props holds installer properties: named string values consulted by
// conditions, handlers and custom actions during an installation session.
package props

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// Well-known property names.
const (
	InstallLevel = "INSTALLLEVEL"
	AddLocal     = "ADDLOCAL"
	Remove       = "REMOVE"
	AddSource    = "ADDSOURCE"
	Reinstall    = "REINSTALL"
	UILevel      = "UILevel"
	ProductName  = "ProductName"
	SourceDir    = "SourceDir"
	Installed    = "Installed"
)

// Store is a case-sensitive property map. Setting a property to the empty
// string removes it, so Has and Get agree on what "set" means.
// A Store is owned by a single session and is not safe for concurrent use.
type Store struct {
	values map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// FromMap creates a store seeded with values. Empty values are dropped.
func FromMap(values map[string]string) *Store {
	s := New()
	for k, v := range values {
		s.Set(k, v)
	}
	return s
}

// Get returns the value of name, or the empty string if it is unset.
func (s *Store) Get(name string) string {
	return s.values[name]
}

// Lookup returns the value of name and whether it is set.
func (s *Store) Lookup(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether name is set.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Set assigns value to name. An empty value deletes the property.
func (s *Store) Set(name, value string) {
	if name == "" {
		return
	}
	if value == "" {
		delete(s.values, name)
		return
	}
	s.values[name] = value
}

// Delete removes name.
func (s *Store) Delete(name string) {
	delete(s.values, name)
}

// Int parses name as an integer, returning def when it is unset or not a number.
func (s *Store) Int(name string, def int) int {
	v, ok := s.values[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// List splits a comma-separated property into trimmed, non-empty items.
func (s *Store) List(name string) []string {
	v, ok := s.values[name]
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Names returns all property names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all properties.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Deformat expands bracketed references in text:
//
//	[Name]   the value of property Name
//	[%VAR]   the environment variable VAR
//	[\c]     the literal character c
//
// References nest, innermost first, so [[Name]] looks up the property named by
// the value of Name. Unbalanced brackets are copied through unchanged.
func (s *Store) Deformat(text string) string {
	if !strings.ContainsRune(text, '[') {
		return text
	}

	runes := []rune(text)
	stack := []*strings.Builder{{}}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		top := stack[len(stack)-1]
		switch r {
		case '[':
			// [\c] escapes a single character, including brackets
			if i+3 < len(runes) && runes[i+1] == '\\' && runes[i+3] == ']' {
				top.WriteRune(runes[i+2])
				i += 3
				continue
			}
			stack = append(stack, &strings.Builder{})
		case ']':
			if len(stack) == 1 {
				top.WriteRune(r)
				continue
			}
			stack = stack[:len(stack)-1]
			stack[len(stack)-1].WriteString(s.expand(top.String()))
		default:
			top.WriteRune(r)
		}
	}

	out := stack[0]
	for _, open := range stack[1:] {
		out.WriteByte('[')
		out.WriteString(open.String())
	}
	return out.String()
}

func (s *Store) expand(token string) string {
	switch {
	case token == "":
		return "[]"
	case strings.HasPrefix(token, "%"):
		return os.Getenv(token[1:])
	default:
		return s.Get(token)
	}
}
