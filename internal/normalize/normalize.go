// Package normalize converts the loosely-typed payload returned by the
// generation service into a canonical four-section note.
//
// The service may answer with narrative text containing "Section:" labels,
// with a flat object keyed by section name in varying case, or with either of
// those wrapped one level deep under an arbitrary key. [Normalize] accepts all
// three shapes and is pure: the same input always yields the same output and
// nothing outside the return value is touched.
//
// A response from which no section text at all can be extracted is rejected
// with a [ParseError]. Partially filled notes are accepted; missing sections
// are empty strings.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// ErrEmptyExtraction matches a [ParseError] whose input yielded no text for
// any section.
var ErrEmptyExtraction = errors.New("normalize: no section content extracted")

// ParseError reports a response that could not be turned into a note.
type ParseError struct {
	// Shape is the kind of the outermost payload.
	Shape generation.Kind

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize: empty extraction from %s response: %s", e.Shape, e.Reason)
}

// Is reports whether target is [ErrEmptyExtraction].
func (e *ParseError) Is(target error) bool {
	return target == ErrEmptyExtraction
}

// sectionLabel matches a canonical section name immediately followed by a
// colon, in any letter case. The word boundary keeps "subplan:" from
// matching.
var sectionLabel = regexp.MustCompile(`(?i)\b(subjective|objective|assessment|plan):`)

// Normalize converts raw into a [note.Content].
//
// Wrapped payloads are unwrapped exactly one level. Object payloads are
// looked up per section by exact (lowercase) key, then UPPERCASE, then
// Titlecase; other keys are ignored. String payloads are split on section
// labels; text before the first label is discarded and a repeated label
// overrides earlier ones. All values are whitespace-trimmed.
func Normalize(raw generation.RawResponse) (note.Content, error) {
	shape := raw.Kind
	if raw.Kind == generation.KindWrapped {
		if raw.Inner == nil {
			return note.Content{}, &ParseError{Shape: shape, Reason: "wrapper has no payload"}
		}
		raw = *raw.Inner
	}

	var c note.Content
	switch raw.Kind {
	case generation.KindObject:
		c = fromObject(raw.Fields)
	case generation.KindString:
		c = fromString(raw.Text)
	case generation.KindWrapped:
		return note.Content{}, &ParseError{Shape: shape, Reason: "nested wrapping is not supported"}
	default:
		return note.Content{}, &ParseError{Shape: shape, Reason: "unknown payload shape"}
	}

	if c.IsEmpty() {
		return note.Content{}, &ParseError{Shape: shape, Reason: "all sections are empty"}
	}
	return c, nil
}

// fromObject looks up each canonical section in fields.
func fromObject(fields map[string]string) note.Content {
	var c note.Content
	for _, s := range note.Sections {
		for _, key := range keyCandidates(s) {
			if v, ok := fields[key]; ok {
				c = c.With(s, strings.TrimSpace(v))
				break
			}
		}
	}
	return c
}

// keyCandidates returns the casing variants tried for s, in priority order.
func keyCandidates(s note.Section) [3]string {
	name := string(s)
	return [3]string{name, strings.ToUpper(name), s.Title()}
}

// fromString splits narrative text on section labels.
func fromString(text string) note.Content {
	var c note.Content
	locs := sectionLabel.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		// loc[2]:loc[3] is the captured section name.
		s := note.Section(strings.ToLower(text[loc[2]:loc[3]]))
		c = c.With(s, cleanSegment(text[loc[1]:end], i+1 < len(locs)))
	}
	return c
}

// cleanSegment trims whitespace from the text following a label, plus the
// markdown a model puts around labels: the "**" closing "**Plan:**" when it
// sits directly after the colon, and the "## " or "**" opening the next
// label when labelFollows. Everything else is section text.
func cleanSegment(seg string, labelFollows bool) string {
	if closesEmphasis(seg) {
		seg = seg[2:]
	}
	if labelFollows {
		seg = trimLabelOpener(seg)
	}
	return strings.TrimSpace(seg)
}

// closesEmphasis reports whether seg starts with the closing half of an
// emphasised label like "**Plan:**".
func closesEmphasis(seg string) bool {
	if !strings.HasPrefix(seg, "**") && !strings.HasPrefix(seg, "__") {
		return false
	}
	return len(seg) == 2 || seg[2] == ' ' || seg[2] == '\t' || seg[2] == '\n' || seg[2] == '\r'
}

// trimLabelOpener removes heading or emphasis markers at the end of seg that
// open the label directly following it, e.g. "\n## " or " **".
func trimLabelOpener(seg string) string {
	head := strings.TrimRight(seg, "#*_ \t")
	tail := seg[len(head):]
	if strings.Trim(tail, " \t") == "" {
		return seg
	}
	if head == "" || strings.HasSuffix(head, "\n") || tail[0] == ' ' || tail[0] == '\t' {
		return head
	}
	return seg
}
