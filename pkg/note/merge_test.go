package note_test

import (
	"testing"

	"github.com/MrWong99/scribe/pkg/note"
)

func TestMerge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		existing note.Content
		proposal note.Content
		mode     note.Mode
		targets  []note.Section
		want     note.Content
	}{
		{
			name:     "append to populated section",
			existing: note.Content{Subjective: "Pt reports cough."},
			proposal: note.Content{Subjective: "Also reports fever x2 days."},
			mode:     note.Append,
			targets:  []note.Section{note.Subjective},
			want:     note.Content{Subjective: "Pt reports cough.\n\nAlso reports fever x2 days."},
		},
		{
			name:     "append to empty section has no separator",
			existing: note.Content{},
			proposal: note.Content{Plan: "Rest."},
			mode:     note.Append,
			targets:  []note.Section{note.Plan},
			want:     note.Content{Plan: "Rest."},
		},
		{
			name:     "replace with empty proposal clears section",
			existing: note.Content{Plan: "old"},
			proposal: note.Content{},
			mode:     note.Replace,
			targets:  []note.Section{note.Plan},
			want:     note.Content{},
		},
		{
			name:     "untargeted sections untouched",
			existing: note.Content{Subjective: "keep", Objective: "old"},
			proposal: note.Content{Subjective: "drop", Objective: "new"},
			mode:     note.Replace,
			targets:  []note.Section{note.Objective},
			want:     note.Content{Subjective: "keep", Objective: "new"},
		},
		{
			name:     "all sections append",
			existing: note.Content{Subjective: "s", Objective: "o", Assessment: "a", Plan: "p"},
			proposal: note.Content{Subjective: "S", Objective: "O", Assessment: "A", Plan: "P"},
			mode:     note.Append,
			targets:  note.Sections,
			want:     note.Content{Subjective: "s\n\nS", Objective: "o\n\nO", Assessment: "a\n\nA", Plan: "p\n\nP"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := note.Merge(tt.existing, tt.proposal, tt.mode, tt.targets)
			if got != tt.want {
				t.Errorf("Merge() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Replace twice with the same proposal yields the same result as once.
func TestMerge_ReplaceIdempotent(t *testing.T) {
	t.Parallel()
	existing := note.Content{Subjective: "a", Plan: "b"}
	proposal := note.Content{Subjective: "x", Plan: "y"}
	once := note.Merge(existing, proposal, note.Replace, note.Sections)
	twice := note.Merge(once, proposal, note.Replace, note.Sections)
	if once != twice {
		t.Errorf("replace not idempotent: %+v vs %+v", once, twice)
	}
}

func TestMerge_AppendPreservesExistingPrefix(t *testing.T) {
	t.Parallel()
	existing := note.Content{Assessment: "Likely viral."}
	proposal := note.Content{Assessment: "Rule out strep."}
	got := note.Merge(existing, proposal, note.Append, []note.Section{note.Assessment})
	prefix := existing.Assessment + note.ParagraphSeparator
	if len(got.Assessment) < len(prefix) || got.Assessment[:len(prefix)] != prefix {
		t.Errorf("Assessment = %q, want prefix %q", got.Assessment, prefix)
	}
}

func TestMerge_AppendAssociative(t *testing.T) {
	t.Parallel()
	for _, sec := range note.Sections {
		t.Run(string(sec), func(t *testing.T) {
			t.Parallel()
			a := note.Content{}.With(sec, "Initial finding.")
			b := note.Content{}.With(sec, "Second dictation.")
			c := note.Content{}.With(sec, "<p>Third</p>")
			targets := []note.Section{sec}

			got := note.Merge(note.Merge(a, b, note.Append, targets), c, note.Append, targets)
			want := "Initial finding." + note.ParagraphSeparator + "Second dictation." + note.ParagraphSeparator + "<p>Third</p>"
			if got.Get(sec) != want {
				t.Errorf("%s = %q, want %q", sec, got.Get(sec), want)
			}
			for _, other := range note.Sections {
				if other != sec && got.Get(other) != "" {
					t.Errorf("untargeted %s = %q", other, got.Get(other))
				}
			}
		})
	}
}

func TestMerge_AppendOnEmptyEqualsReplace(t *testing.T) {
	t.Parallel()
	for _, sec := range note.Sections {
		t.Run(string(sec), func(t *testing.T) {
			t.Parallel()
			existing := note.Content{Subjective: "s", Objective: "o", Assessment: "a", Plan: "p"}.With(sec, "")
			proposal := note.Content{}.With(sec, "Proposed text.")
			targets := []note.Section{sec}

			appended := note.Merge(existing, proposal, note.Append, targets)
			replaced := note.Merge(existing, proposal, note.Replace, targets)
			if appended != replaced {
				t.Errorf("append = %+v, replace = %+v", appended, replaced)
			}
			if appended.Get(sec) != "Proposed text." {
				t.Errorf("%s = %q", sec, appended.Get(sec))
			}
		})
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	existing := note.Content{Subjective: "a"}
	proposal := note.Content{Subjective: "b"}
	_ = note.Merge(existing, proposal, note.Append, note.Sections)
	if existing.Subjective != "a" || proposal.Subjective != "b" {
		t.Errorf("inputs mutated: %+v %+v", existing, proposal)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	if m, err := note.ParseMode(""); err != nil || m != note.Append {
		t.Errorf("ParseMode(\"\") = %q, %v", m, err)
	}
	if m, err := note.ParseMode("replace"); err != nil || m != note.Replace {
		t.Errorf("ParseMode(replace) = %q, %v", m, err)
	}
	if _, err := note.ParseMode("overwrite"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
