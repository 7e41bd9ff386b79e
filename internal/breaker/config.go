package breaker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawEntry mirrors Config but with a pointer Notify so the YAML default
// (true) can be distinguished from an explicit `notify: false`.
type rawEntry struct {
	Scope            string `yaml:"scope"`
	FailureThreshold int    `yaml:"failure_threshold"`
	WindowMS         int64  `yaml:"window_ms"`
	CooldownMS       int64  `yaml:"cooldown_ms"`
	Notify           *bool  `yaml:"notify"`
}

type configFile struct {
	CircuitBreakers []rawEntry `yaml:"circuit_breakers"`
}

// LoadConfigs reads breaker configs from a YAML file shaped either as a
// top-level `circuit_breakers:` list or a bare list. A missing file yields
// an empty, non-error result so a fresh deployment can run with
// dynamically-created breakers only.
func LoadConfigs(path string) ([]Config, error) {
	if path == "" {
		return nil, nil
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("breaker: read config %q: %w", path, err)
	}

	var wrapped configFile
	if err := yaml.Unmarshal(blob, &wrapped); err == nil && len(wrapped.CircuitBreakers) > 0 {
		return applyDefaults(wrapped.CircuitBreakers), nil
	}

	var bare []rawEntry
	if err := yaml.Unmarshal(blob, &bare); err != nil {
		return nil, fmt.Errorf("breaker: parse config %q: %w", path, err)
	}
	return applyDefaults(bare), nil
}

func applyDefaults(entries []rawEntry) []Config {
	configs := make([]Config, len(entries))
	for i, e := range entries {
		c := Config{Scope: e.Scope, FailureThreshold: e.FailureThreshold, WindowMS: e.WindowMS, CooldownMS: e.CooldownMS}
		if c.FailureThreshold == 0 {
			c.FailureThreshold = 5
		}
		if c.WindowMS == 0 {
			c.WindowMS = 3_600_000
		}
		if c.CooldownMS == 0 {
			c.CooldownMS = 1_800_000
		}
		c.Notify = e.Notify == nil || *e.Notify
		configs[i] = c
	}
	return configs
}
