package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/dispatcher"
	"github.com/kruyneg/information-retrieval/internal/storage/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckCommandLocalBackend(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
sites:
  - base_url: https://habr.com
storage:
  backend: local
  local:
    base_dir: `+dir+`
`)
	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `storage backend "local" is reachable`)
}

func TestProgressCommandPrintsCursors(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
sites:
  - base_url: https://habr.com/
  - base_url: https://www.geeksforgeeks.org
storage:
  backend: local
  local:
    base_dir: `+dir+`
`)
	out, err := execute(t, "progress", "--config", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "https://habr.com\t(none)", lines[0])
	assert.Equal(t, "https://www.geeksforgeeks.org\t(none)", lines[1])
}

func TestPrintCursors(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	require.NoError(t, store.SetLastURL(context.Background(), "https://habr.com", "https://habr.com/ru/articles/9/"))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetContext(context.Background())
	err := printCursors(root, store, []config.SiteConfig{{BaseURL: "https://habr.com"}})
	require.NoError(t, err)
	assert.Equal(t, "https://habr.com\thttps://habr.com/ru/articles/9/\n", out.String())

	err = printCursors(root, store, []config.SiteConfig{{BaseURL: "habr.com"}})
	assert.Error(t, err)
}

func TestRootFailsOnBadConfig(t *testing.T) {
	_, err := execute(t, "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)

	app := &App{Logger: zap.NewNop()}
	got, err := resolveApp(context.WithValue(context.Background(), appKey, app))
	require.NoError(t, err)
	assert.Same(t, app, got)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, dispatcher.Summary{
		Enqueued:    7,
		Stored:      1,
		StoredBytes: 2048,
		Rewound:     []string{"https://habr.com"},
		StopReason:  dispatcher.ReasonLimit,
	}, 3)

	got := out.String()
	assert.Contains(t, got, "7 enqueued, 1 stored (2KiB)")
	assert.Contains(t, got, "stopped by "+dispatcher.ReasonLimit)
	assert.Contains(t, got, "https://habr.com: resume cursor rewound")
	assert.Contains(t, got, "3 progress events dropped")
}
