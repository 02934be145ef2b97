package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribe/pkg/provider/llm/mock"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/scribe/pkg/provider/stt/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "fake", Model: "m1", APIKey: "k"}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "m1" || gotEntry.APIKey != "k" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}

	names := reg.Names()
	if !slices.Equal(names["llm"], []string{"fake"}) || !slices.Equal(names["stt"], []string{"fake"}) {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("bad api key")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, boom
	})
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}
