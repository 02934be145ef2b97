package template_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/note"
)

func TestService_EditAndHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := template.NewService(template.NewMemStore())

	tpl, err := svc.Create(ctx, "Annual physical", "", note.Content{Plan: "v1"}, "a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Edit(ctx, tpl.ID, 1, note.Content{Plan: "v2"}, "b"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, err := svc.Restore(ctx, tpl.ID, 2, 1, "c"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	hist, err := svc.History(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{"v1", "v2", "v1"}
	if len(hist) != len(want) {
		t.Fatalf("history len = %d, want %d", len(hist), len(want))
	}
	for i, h := range hist {
		if h.Version != i+1 || h.Content.Plan != want[i] {
			t.Errorf("hist[%d] = v%d %q, want v%d %q", i, h.Version, h.Content.Plan, i+1, want[i])
		}
	}
}

// Two edits race from the same starting version: exactly one wins and only
// one new version is created.
func TestService_ConcurrentEditsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var conflicts atomic.Int32
	svc := template.NewService(template.NewMemStore(), template.WithConflictHook(func(string) {
		conflicts.Add(1)
	}))
	tpl, _ := svc.Create(ctx, "SOAP", "", note.Content{Plan: "v1"}, "a")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Edit(ctx, tpl.ID, 1, note.Content{Plan: "edit"}, "writer")
		}()
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, template.ErrVersionConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("ok=%d conflict=%d, want 1/1", ok, conflict)
	}
	if conflicts.Load() != 1 {
		t.Errorf("conflict hook called %d times, want 1", conflicts.Load())
	}

	got, _ := svc.Get(ctx, tpl.ID)
	if got.Version != 2 || len(got.History) != 1 {
		t.Errorf("stored version %d with %d history entries, want 2/1", got.Version, len(got.History))
	}
}

func TestService_Duplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := template.NewService(template.NewMemStore())
	tpl, _ := svc.Create(ctx, "Wound check", "", note.Content{Objective: "Wound:"}, "a")
	_, _ = svc.Edit(ctx, tpl.ID, 1, note.Content{Objective: "Wound site:"}, "a")

	dup, err := svc.Duplicate(ctx, tpl.ID, "b")
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	stored, err := svc.Get(ctx, dup.ID)
	if err != nil {
		t.Fatalf("Get duplicate: %v", err)
	}
	if stored.Version != 1 || len(stored.History) != 0 || stored.Content.Objective != "Wound site:" {
		t.Errorf("duplicate = %+v", stored)
	}
}

func TestService_DeleteAndNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := template.NewService(template.NewMemStore())
	tpl, _ := svc.Create(ctx, "Temp", "", note.Content{}, "a")
	if err := svc.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, tpl.ID); !errors.Is(err, template.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if _, err := svc.Edit(ctx, tpl.ID, 1, note.Content{}, "a"); !errors.Is(err, template.ErrNotFound) {
		t.Errorf("Edit after delete err = %v", err)
	}
}

func TestService_Search(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := template.NewService(template.NewMemStore())
	for _, n := range []struct{ name, specialty string }{
		{"Diabetes follow-up", "endocrinology"},
		{"Asthma review", "pulmonology"},
		{"Prenatal visit", "obstetrics"},
	} {
		if _, err := svc.Create(ctx, n.name, n.specialty, note.Content{}, "a"); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  string
	}{
		{"diabetes", "Diabetes follow-up"},
		{"diabetis", "Diabetes follow-up"},
		{"pulmonology", "Asthma review"},
		{"astma", "Asthma review"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			got, err := svc.Search(ctx, tt.query, 1)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != 1 || got[0].Template.Name != tt.want {
				t.Errorf("Search(%q) = %+v, want %q", tt.query, got, tt.want)
			}
		})
	}

	all, _ := svc.Search(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("empty query returned %d, want 3", len(all))
	}
	none, _ := svc.Search(ctx, "xylophone", 0)
	if len(none) != 0 {
		t.Errorf("unrelated query matched %+v", none)
	}
}

func TestService_ImportSkipsExistingNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := template.NewService(template.NewMemStore())
	_, _ = svc.Create(ctx, "Follow-up", "", note.Content{}, "a")

	seeds := []template.Seed{
		{Name: "follow-up"},
		{Name: "New patient", Content: note.Content{Subjective: "HPI:"}},
		{Name: "New Patient"},
	}
	n, err := svc.Import(ctx, seeds, "seed")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 1 {
		t.Errorf("imported %d, want 1", n)
	}
	list, _ := svc.List(ctx)
	if len(list) != 2 {
		t.Errorf("templates = %d, want 2", len(list))
	}
}
