package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitemap = `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0">
  <map:pipelines>
    <map:pipeline>
      <map:match pattern="a">
        <map:generate src="a.xml"/>
        <map:serialize/>
      </map:match>
    </map:pipeline>
  </map:pipelines>
</map:sitemap>`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sitemap.xmap"), []byte(sitemap), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte("<a/>"), 0o644))

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cocoon version")

	out, err = run(t, "validate", "--sitemap", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	out, err = run(t, "tree", "--sitemap", dir, "--log-level", "error", "--path", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "class n2 matched;")

	_, err = run(t, "validate", "--sitemap", filepath.Join(dir, "missing.xmap"), "--log-level", "error")
	assert.ErrorContains(t, err, "validation failed")

	_, err = run(t, "validate", "--config", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
