package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SearchThresholdChanged bool
	NewSearchThreshold     float64

	// RestartRequired names the top-level settings that changed but only
	// take effect after a restart, in schema order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SearchThresholdChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Templates.SearchThreshold != new.Templates.SearchThreshold {
		d.SearchThresholdChanged = true
		d.NewSearchThreshold = new.Templates.SearchThreshold
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldTemplates, newTemplates := old.Templates, new.Templates
	oldTemplates.SearchThreshold, newTemplates.SearchThreshold = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"generation", old.Generation, new.Generation},
		{"providers", old.Providers, new.Providers},
		{"recorder", old.Recorder, new.Recorder},
		{"templates", oldTemplates, newTemplates},
		{"documents", old.Documents, new.Documents},
		{"mcp", old.MCP, new.MCP},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
