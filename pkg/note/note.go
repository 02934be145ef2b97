// Package note defines the canonical four-section clinical note (Subjective,
// Objective, Assessment, Plan) and the pure operations over it: section
// lookup, StringForm rendering, plain-text extraction and merging a proposed
// note into an existing one.
//
// Content is a plain value type. Every operation in this package returns a new
// value and never mutates its arguments, so values can be shared freely
// between goroutines.
package note

import (
	"fmt"
	"strings"
)

// Section names one of the four canonical note sections.
type Section string

const (
	Subjective Section = "subjective"
	Objective  Section = "objective"
	Assessment Section = "assessment"
	Plan       Section = "plan"
)

// Sections lists the canonical sections in document order.
var Sections = []Section{Subjective, Objective, Assessment, Plan}

// IsValid reports whether s is one of the canonical sections.
func (s Section) IsValid() bool {
	switch s {
	case Subjective, Objective, Assessment, Plan:
		return true
	}
	return false
}

// Title returns the display heading for s, e.g. "Subjective".
func (s Section) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// ParseSection converts a case-insensitive section name into a [Section].
func ParseSection(name string) (Section, error) {
	s := Section(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsValid() {
		return "", fmt.Errorf("note: unknown section %q", name)
	}
	return s, nil
}

// ParseSections converts a list of section names. An empty list yields all
// four sections.
func ParseSections(names []string) ([]Section, error) {
	if len(names) == 0 {
		return append([]Section(nil), Sections...), nil
	}
	out := make([]Section, 0, len(names))
	for _, n := range names {
		s, err := ParseSection(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Content is a structured clinical note. All four fields are always present;
// an absent section is the empty string. Field values may contain rich-text
// markup which is carried through untouched.
type Content struct {
	Subjective string `json:"subjective" yaml:"subjective"`
	Objective  string `json:"objective"  yaml:"objective"`
	Assessment string `json:"assessment" yaml:"assessment"`
	Plan       string `json:"plan"       yaml:"plan"`
}

// Get returns the value of section s. Unknown sections yield "".
func (c Content) Get(s Section) string {
	switch s {
	case Subjective:
		return c.Subjective
	case Objective:
		return c.Objective
	case Assessment:
		return c.Assessment
	case Plan:
		return c.Plan
	}
	return ""
}

// With returns a copy of c with section s set to v. Unknown sections leave c
// unchanged.
func (c Content) With(s Section, v string) Content {
	switch s {
	case Subjective:
		c.Subjective = v
	case Objective:
		c.Objective = v
	case Assessment:
		c.Assessment = v
	case Plan:
		c.Plan = v
	}
	return c
}

// IsEmpty reports whether every section is empty after trimming whitespace.
func (c Content) IsEmpty() bool {
	for _, s := range Sections {
		if strings.TrimSpace(c.Get(s)) != "" {
			return false
		}
	}
	return true
}

// Filled returns the sections of c with non-blank text, in document order.
func (c Content) Filled() []Section {
	var out []Section
	for _, s := range Sections {
		if strings.TrimSpace(c.Get(s)) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Render serialises c into StringForm: one "Heading: text" block per
// non-empty section, in document order, separated by a blank line.
func (c Content) Render() string {
	var b strings.Builder
	for _, s := range Sections {
		v := c.Get(s)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(ParagraphSeparator)
		}
		b.WriteString(s.Title())
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}
