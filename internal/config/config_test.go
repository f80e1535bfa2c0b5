package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tigapply/internal/whitespace"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"log_level": "debug",
		"apply": {"whitespace": "fix", "fuzz": 3},
		"index": {"lock_timeout": "2s"}
	}`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, 3, config.Apply.Fuzz)
	assert.Equal(t, -1, config.Apply.MinContext, "unset keys keep defaults")

	action, err := config.Action()
	require.NoError(t, err)
	assert.Equal(t, whitespace.Fix, action)

	timeout, err := config.LockTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
apply:
  ignore_whitespace: true
  min_context: 1
whitespace:
  default_rule: "tabwidth=4"
  attributes:
    - pattern: "*.md"
      rule: "false"
    - pattern: "docs/*.txt"
      rule: "indent-with-non-tab"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.True(t, config.Apply.IgnoreWhitespace)
	assert.Equal(t, 1, config.Apply.MinContext)
	assert.Equal(t, -1, config.Apply.Fuzz)
	require.Len(t, config.Whitespace.Attributes, 2)

	rules, err := config.WhitespaceRules()
	require.NoError(t, err)
	assert.Equal(t, whitespace.Rule(4), rules.For("sub/README.md"))
	assert.Equal(t, 4, rules.For("main.go").TabWidth())
	assert.NotZero(t, rules.For("docs/a.txt")&whitespace.IndentWithNonTab)
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown key", "c.json", `{"server": {"port": 1}}`},
		{"bad action", "c.json", `{"apply": {"whitespace": "loud"}}`},
		{"fuzz below -1", "c.yaml", "apply:\n  fuzz: -2\n"},
		{"attribute without rule", "c.yaml", "whitespace:\n  attributes:\n    - pattern: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.NotEmpty(t, schemaErr.Issues)
		})
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeFile(t, "c.json", `{"index": {"lock_timeout": "soon"}}`))
	assert.ErrorContains(t, err, "index.lock_timeout")

	_, err = Load(writeFile(t, "c.json", `{"whitespace": {"default_rule": "no-such-rule"}}`))
	assert.ErrorContains(t, err, "no-such-rule")
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	config, err := Load(writeFile(t, "c.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), config)
}

func TestPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".tig"), 0o755))

	t.Setenv("TIG_CONFIG", "")
	assert.Equal(t, "", Path(root))

	yamlPath := filepath.Join(root, ".tig", "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, nil, 0o644))
	assert.Equal(t, yamlPath, Path(root))

	t.Setenv("TIG_CONFIG", "/elsewhere/config.json")
	assert.Equal(t, "/elsewhere/config.json", Path(root))
}
