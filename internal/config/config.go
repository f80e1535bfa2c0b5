// internal/config/config.go
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.yaml.in/yaml/v3"

	"tigapply/internal/whitespace"
)

//go:embed schema.json
var schemaJSON string

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	Apply      ApplyConfig      `json:"apply" yaml:"apply"`
	Whitespace WhitespaceConfig `json:"whitespace" yaml:"whitespace"`
	Index      IndexConfig      `json:"index" yaml:"index"`
}

type ApplyConfig struct {
	Whitespace       string `json:"whitespace" yaml:"whitespace"`
	IgnoreWhitespace bool   `json:"ignore_whitespace" yaml:"ignore_whitespace"`
	Fuzz             int    `json:"fuzz" yaml:"fuzz"`
	MinContext       int    `json:"min_context" yaml:"min_context"`
}

type WhitespaceConfig struct {
	DefaultRule string                 `json:"default_rule" yaml:"default_rule"`
	Attributes  []whitespace.Attribute `json:"attributes" yaml:"attributes"`
}

type IndexConfig struct {
	LockTimeout string `json:"lock_timeout" yaml:"lock_timeout"`
}

func Default() *Config {
	return &Config{
		LogLevel: "warn",
		Apply: ApplyConfig{
			Whitespace: "warn",
			Fuzz:       -1,
			MinContext: -1,
		},
		Index: IndexConfig{LockTimeout: "0s"},
	}
}

// Path returns the config file to use for a repository at root: TIG_CONFIG
// when set, else the first of .tig/config.json, .tig/config.yaml and
// .tig/config.yml that exists. It returns "" when there is none.
func Path(root string) string {
	if p := os.Getenv("TIG_CONFIG"); p != "" {
		return p
	}
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(root, ".tig", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads a JSON or YAML config file, chosen by extension, validates it
// against the schema and fills unset keys with defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw, isYAML(path))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Decode parses raw as YAML or JSON.
func Decode(raw []byte, yamlFormat bool) (*Config, error) {
	var doc any
	if yamlFormat {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	config := Default()
	if yamlFormat {
		err := yaml.Unmarshal(raw, config)
		if err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}

	if _, err := config.LockTimeout(); err != nil {
		return nil, err
	}
	if _, err := config.Action(); err != nil {
		return nil, fmt.Errorf("config: apply.whitespace: %w", err)
	}
	if _, err := config.WhitespaceRules(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config, nil
}

// SchemaError lists every schema violation of a config document.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return "config: invalid document: " + strings.Join(e.Issues, "; ")
}

func validate(doc any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("config: schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return &SchemaError{Issues: issues}
}

func (c *Config) LockTimeout() (time.Duration, error) {
	if c.Index.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Index.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: index.lock_timeout: %w", err)
	}
	return d, nil
}

func (c *Config) Action() (whitespace.Action, error) {
	return whitespace.ParseAction(c.Apply.Whitespace)
}

// WhitespaceRules resolves the per-path whitespace rules: the default rule
// refined by the attribute list.
func (c *Config) WhitespaceRules() (*whitespace.Rules, error) {
	def := whitespace.DefaultRule
	if c.Whitespace.DefaultRule != "" {
		var err error
		if def, err = whitespace.Parse(c.Whitespace.DefaultRule); err != nil {
			return nil, fmt.Errorf("whitespace.default_rule: %w", err)
		}
	}
	return whitespace.NewRules(def, c.Whitespace.Attributes)
}
