package note

import "fmt"

// ParagraphSeparator is inserted between existing and appended section text.
const ParagraphSeparator = "\n\n"

// Mode selects how a proposed section value is combined with the existing one.
type Mode string

const (
	// Append adds the proposal after the existing text, separated by
	// [ParagraphSeparator]. An empty existing value takes the proposal as-is.
	Append Mode = "append"

	// Replace overwrites the existing text with the proposal verbatim, even
	// when the proposal is empty.
	Replace Mode = "replace"
)

// IsValid reports whether m is a known merge mode.
func (m Mode) IsValid() bool {
	return m == Append || m == Replace
}

// ParseMode converts a mode name into a [Mode]. The empty string yields
// [Append].
func ParseMode(name string) (Mode, error) {
	if name == "" {
		return Append, nil
	}
	m := Mode(name)
	if !m.IsValid() {
		return "", fmt.Errorf("note: unknown merge mode %q", name)
	}
	return m, nil
}

// Merge combines proposal into existing for each section in targets and
// returns the result. Sections not listed in targets keep their existing
// value. Merge is pure.
func Merge(existing, proposal Content, mode Mode, targets []Section) Content {
	out := existing
	for _, s := range targets {
		out = out.With(s, mergeValue(existing.Get(s), proposal.Get(s), mode))
	}
	return out
}

func mergeValue(existing, proposed string, mode Mode) string {
	if mode == Replace {
		return proposed
	}
	if existing == "" {
		return proposed
	}
	return existing + ParagraphSeparator + proposed
}
