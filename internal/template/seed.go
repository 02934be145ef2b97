package template

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scribe/pkg/note"
)

// SeedFile is the structure of a template seed YAML file.
//
// Example:
//
//	templates:
//	  - name: "Follow-up visit"
//	    specialty: "general practice"
//	    content:
//	      subjective: "Reason for follow-up:"
//	      plan: "Next review in"
type SeedFile struct {
	Templates []Seed `yaml:"templates"`
}

// Seed is one template definition in a seed file.
type Seed struct {
	Name      string       `yaml:"name"`
	Specialty string       `yaml:"specialty"`
	Content   note.Content `yaml:"content"`
}

// LoadSeedFiles parses every file matching the doublestar pattern (for
// example "templates/**/*.yaml") in lexical path order.
func LoadSeedFiles(pattern string) ([]Seed, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("template: glob %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var seeds []Seed
	for _, p := range paths {
		s, err := loadSeedFile(p)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, s...)
	}
	return seeds, nil
}

func loadSeedFile(path string) ([]Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("template: open seed file %q: %w", path, err)
	}
	defer f.Close()

	seeds, err := LoadSeedsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("template: parse seed file %q: %w", path, err)
	}
	return seeds, nil
}

// LoadSeedsFromReader parses seed YAML from r. Unknown keys are rejected.
func LoadSeedsFromReader(r io.Reader) ([]Seed, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("template: decode seed yaml: %w", err)
	}
	for i, s := range sf.Templates {
		if s.Name == "" {
			return nil, fmt.Errorf("template: seed %d: name must not be empty", i)
		}
	}
	return sf.Templates, nil
}
