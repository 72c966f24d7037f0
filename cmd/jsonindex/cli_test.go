package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/jsonindex/config"
	"github.com/hupe1980/jsonindex/snapshot"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Index.Path = filepath.Join(dir, "index")
	cfg.Index.Areas = []string{"docs"}
	cfg.Snapshot.Backend = config.BackendLocal
	cfg.Snapshot.Path = filepath.Join(dir, "snapshots")
	cfg.Log.Level = "error"

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(dir, "jsonindex.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_ImportSearchSnapshot(t *testing.T) {
	cfgPath := writeConfig(t)

	input := filepath.Join(t.TempDir(), "docs.jsonl")
	lines := strings.Join([]string{
		`{"id":"1","title":"red apple"}`,
		`{"id":"2","title":"green apple"}`,
		``,
		`{"title":"no id"}`,
		`{"id":"3","title":"yellow banana"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(input, []byte(lines), 0o600))

	out, err := execute(t, "-c", cfgPath, "import", "docs", input)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 documents into docs (1 failed)")

	out, err = execute(t, "-c", cfgPath, "search", "--count", "apple")
	require.NoError(t, err)
	var res map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res["count"])

	out, err = execute(t, "-c", cfgPath, "search", "-n", "1", "title:banana")
	require.NoError(t, err)
	assert.Contains(t, out, `"key":"docs/3"`)

	out, err = execute(t, "-c", cfgPath, "snapshot", "take")
	require.NoError(t, err)
	name := strings.Fields(out)[0]
	_, ok := snapshot.ParseFileName(name)
	require.True(t, ok, name)

	out, err = execute(t, "-c", cfgPath, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, name)

	out, err = execute(t, "-c", cfgPath, "snapshot", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "restored "+name)

	out, err = execute(t, "-c", cfgPath, "search", "--count")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res["count"])
}

func TestCLI_Config(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "-c", cfgPath, "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, []string{"docs"}, cfg.Index.Areas)
	assert.Equal(t, config.BackendLocal, cfg.Snapshot.Backend)
}

func TestCLI_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  merge_factor: 1\n"), 0o600))

	_, err := execute(t, "-c", path, "config")
	require.Error(t, err)
}

func TestCLI_ImportUnknownArea(t *testing.T) {
	cfgPath := writeConfig(t)

	input := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(`{"id":"1"}`), 0o600))

	out, err := execute(t, "-c", cfgPath, "import", "other", input)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 documents into other (1 failed)")
}
