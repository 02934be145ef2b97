package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMCPPath         = "/mcp"
	DefaultMetricsPath     = "/metrics"
	DefaultSearchThreshold = 0.82
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. ${VAR} references are replaced with environment
// values before decoding so secrets can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		// "$$" stays a literal dollar sign.
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
	if cfg.Templates.SearchThreshold == 0 {
		cfg.Templates.SearchThreshold = DefaultSearchThreshold
	}
	for i := range cfg.Generation.Backends {
		b := &cfg.Generation.Backends[i]
		if b.Name == "" {
			b.Name = fmt.Sprintf("%s-%d", b.Kind, i)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Generation backends
	if len(cfg.Generation.Backends) == 0 {
		errs = append(errs, errors.New("generation.backends must list at least one backend"))
	}
	namesSeen := make(map[string]int, len(cfg.Generation.Backends))
	needsLLM := false
	for i, b := range cfg.Generation.Backends {
		prefix := fmt.Sprintf("generation.backends[%d]", i)
		if prev, ok := namesSeen[b.Name]; ok && b.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of generation.backends[%d]", prefix, b.Name, prev))
		}
		namesSeen[b.Name] = i
		switch {
		case !b.Kind.IsValid():
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: http, llm", prefix, b.Kind))
		case b.Kind == BackendHTTP && b.URL == "":
			errs = append(errs, fmt.Errorf("%s.url is required when kind is http", prefix))
		case b.Kind == BackendLLM:
			needsLLM = true
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
	}

	// Provider chains backing "llm" backends.
	if needsLLM {
		if len(cfg.Providers.LLM) == 0 {
			errs = append(errs, errors.New("a generation backend of kind llm requires providers.llm"))
		}
		if len(cfg.Providers.STT) == 0 {
			errs = append(errs, errors.New("a generation backend of kind llm requires providers.stt"))
		}
	}
	for i, e := range cfg.Providers.LLM {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.STT {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}

	// Templates
	if t := cfg.Templates.SearchThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("templates.search_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Templates.PostgresDSN == "" {
		slog.Warn("templates.postgres_dsn is empty; templates are kept in memory only")
	}

	// Telemetry
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
