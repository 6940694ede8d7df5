package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models conventions.yml.
type Config struct {
	School struct {
		ID      string `yaml:"id" json:"id"`
		Name    string `yaml:"name" json:"name"`
		City    string `yaml:"city" json:"city"`
		Domain  string `yaml:"domain" json:"domain"`
		Academy string `yaml:"academy,omitempty" json:"academy,omitempty"`
	} `yaml:"school" json:"school"`
	ConventionTypes map[string]ConventionType `yaml:"convention_types" json:"convention_types"`
	Classes         struct {
		Default string            `yaml:"default" json:"default"`
		Mapping map[string]string `yaml:"mapping" json:"mapping"`
	} `yaml:"classes" json:"classes"`
	Workflow struct {
		ReadAfterWriteRetries   int `yaml:"read_after_write_retries" json:"read_after_write_retries"`
		ReadAfterWriteBackoffMS int `yaml:"read_after_write_backoff_ms" json:"read_after_write_backoff_ms"`
	} `yaml:"workflow" json:"workflow"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// ConventionType describes the document template for a convention type.
type ConventionType struct {
	Title    string `yaml:"title" json:"title"`
	Code     string `yaml:"code" json:"code"`
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.School.ID == "" {
		return fmt.Errorf("config.school.id is required")
	}
	if len(c.ConventionTypes) == 0 {
		return fmt.Errorf("config.convention_types is required")
	}
	for name, t := range c.ConventionTypes {
		if name == "" {
			return fmt.Errorf("config.convention_types contains empty type")
		}
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("convention type %s has empty title", name)
		}
		if strings.TrimSpace(t.Code) == "" {
			return fmt.Errorf("convention type %s has empty code", name)
		}
	}
	if c.Classes.Default == "" {
		return fmt.Errorf("config.classes.default is required")
	}
	if _, ok := c.ConventionTypes[c.Classes.Default]; !ok {
		return fmt.Errorf("config.classes.default references unknown type %s", c.Classes.Default)
	}
	for class, typ := range c.Classes.Mapping {
		if class == "" {
			return fmt.Errorf("config.classes.mapping contains empty class")
		}
		if _, ok := c.ConventionTypes[typ]; !ok {
			return fmt.Errorf("class %s maps to unknown type %s", class, typ)
		}
	}
	if c.Workflow.ReadAfterWriteRetries < 0 {
		return fmt.Errorf("config.workflow.read_after_write_retries must be >= 0")
	}
	if c.Workflow.ReadAfterWriteBackoffMS < 0 {
		return fmt.Errorf("config.workflow.read_after_write_backoff_ms must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "conventions.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(schoolID string) string {
	return fmt.Sprintf(defaultTemplate, schoolID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a school.
func Default(schoolID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(schoolID))).Decode(&cfg)
	cfg.School.ID = schoolID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

// TypeForClass maps a student class to a convention type name. Class names
// compare case-insensitively; unknown classes get the default type.
func (c *Config) TypeForClass(class string) string {
	key := strings.ToLower(strings.TrimSpace(class))
	for name, typ := range c.Classes.Mapping {
		if strings.ToLower(name) == key {
			return typ
		}
	}
	return c.Classes.Default
}

const defaultTemplate = `school:
  id: %s
  name: "MFR Sud Est Nord"
  city: "Saint-Martin"
  domain: mfr-conventions.local

convention_types:
  stage_initiation:
    title: "CONVENTION RELATIVE AUX STAGES D'INITIATION"
    code: SEN-ANSE-SI-03
    template: convention_stage_initiation.docx
  pfmp_seconde:
    title: "CONVENTION RELATIVE AUX PÉRIODES DE FORMATION EN MILIEU PROFESSIONNEL - SECONDE"
    code: SEN-ANSE-REA-54
    template: convention_pfmp_seconde.docx
  pfmp_premiere_terminale:
    title: "CONVENTION RELATIVE AUX PÉRIODES DE FORMATION EN MILIEU PROFESSIONNEL - 1ÈRE/TERMINALE"
    code: SEN-ANSE-REA-25
    template: convention_pfmp_premiere_terminale.docx

classes:
  default: stage_initiation
  mapping:
    "4ème": stage_initiation
    "3èmeA": stage_initiation
    "3èmeN": stage_initiation
    "2nde1": pfmp_seconde
    "2nde2": pfmp_seconde
    "1ère1": pfmp_premiere_terminale
    "1ère2": pfmp_premiere_terminale
    "Term1": pfmp_premiere_terminale
    "Term2": pfmp_premiere_terminale

workflow:
  read_after_write_retries: 3
  read_after_write_backoff_ms: 50
`
