package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models testline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Generation struct {
		NamePrefixLen int `yaml:"name_prefix_len"`
		DelayMS       int `yaml:"delay_ms"`
	} `yaml:"generation"`
	Run struct {
		Browser      string `yaml:"browser"`
		StepDelayMS  int    `yaml:"step_delay_ms"`
		FailFast     bool   `yaml:"fail_fast"`
		ReportOutput string `yaml:"report_output"`
	} `yaml:"run"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

var validBrowsers = map[string]bool{
	"chrome": true, "firefox": true, "safari": true, "edge": true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "test-project" {
		return fmt.Errorf("config.project.kind must be 'test-project'")
	}
	if c.Generation.NamePrefixLen < 0 {
		return fmt.Errorf("config.generation.name_prefix_len must not be negative")
	}
	if c.Generation.DelayMS < 0 {
		return fmt.Errorf("config.generation.delay_ms must not be negative")
	}
	if c.Run.Browser != "" && !validBrowsers[c.Run.Browser] {
		return fmt.Errorf("config.run.browser must be one of chrome, firefox, safari, edge")
	}
	if c.Run.StepDelayMS < 0 {
		return fmt.Errorf("config.run.step_delay_ms must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		for _, evt := range wh.Events {
			if evt == "" {
				return fmt.Errorf("webhook %s has empty event filter", wh.URL)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "testline.yml")
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "test-project"
	cfg.Generation.NamePrefixLen = 30
	cfg.Generation.DelayMS = 1500
	cfg.Run.Browser = "chrome"
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// FromYAML parses and validates config from raw YAML bytes. Unknown keys
// are rejected so a typoed setting fails loudly instead of being ignored.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Generation.NamePrefixLen == 0 {
		cfg.Generation.NamePrefixLen = 30
	}
	if cfg.Generation.DelayMS == 0 {
		cfg.Generation.DelayMS = 1500
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: test-project

generation:
  name_prefix_len: 30
  delay_ms: 1500

run:
  browser: chrome
  step_delay_ms: 0
  fail_fast: false

webhooks: []
`
