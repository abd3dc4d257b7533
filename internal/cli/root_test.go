package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/channel-search/internal/config"
	"github.com/renderinc/channel-search/internal/source"
	"github.com/renderinc/channel-search/internal/source/sourcetest"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "channel-search", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"index"}, {"index-all"}, {"update"}, {"search"}, {"serve"}, {"stats"},
		{"channels", "add"}, {"channels", "list"}, {"channels", "enable"}, {"channels", "disable"},
	}

	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "data-dir", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

// testCLI runs commands against one data dir and an in-memory connector
type testCLI struct {
	dataDir    string
	configPath string
	conn       *sourcetest.Connector
}

const testConfig = `
scheduler:
  backfill_pause: 1ms
  update_pause: 1ms
log:
  level: error
`

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	for _, key := range []string{config.EnvToken, config.EnvSourceURL, config.EnvDataDir, config.EnvLogLevel} {
		t.Setenv(key, "")
	}
	c := &testCLI{dataDir: t.TempDir(), conn: sourcetest.New()}
	c.configPath = filepath.Join(c.dataDir, "config.yaml")
	require.NoError(t, os.WriteFile(c.configPath, []byte(testConfig), 0o600))
	return c
}

func (c *testCLI) run(t *testing.T, withSource bool, args ...string) (string, error) {
	t.Helper()

	opts := &RootOptions{EnvFiles: []string{filepath.Join(c.dataDir, "none.env")}}
	if withSource {
		opts.Connector = c.conn
	}

	cmd := newRootCommand(opts)
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(append([]string{"--config", c.configPath, "--data-dir", c.dataDir}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestChannelsLifecycle(t *testing.T) {
	c := newTestCLI(t)

	out, err := c.run(t, false, "channels", "add", "gonews", "--title", "Go News", "--rating", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Added gonews (Go News)")

	out, err = c.run(t, false, "channels", "add", "gonews")
	require.NoError(t, err)
	assert.Contains(t, out, "already registered")

	_, err = c.run(t, false, "channels", "add", "rustnews", "--rating", "9")
	require.NoError(t, err)

	out, err = c.run(t, false, "channels", "list")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "rustnews"), strings.Index(out, "gonews"), "higher rating first")

	_, err = c.run(t, false, "channels", "disable", "rustnews")
	require.NoError(t, err)

	out, err = c.run(t, false, "channels", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "rustnews")

	out, err = c.run(t, false, "channels", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "rustnews")

	_, err = c.run(t, false, "channels", "enable", "ghost")
	assert.ErrorContains(t, err, "not registered")
}

func TestChannelsListOutput(t *testing.T) {
	c := newTestCLI(t)

	_, err := c.run(t, false, "channels", "add", "gonews", "--title", "Go News", "--rating", "5")
	require.NoError(t, err)
	_, err = c.run(t, false, "channels", "add", "rustnews", "--rating", "9")
	require.NoError(t, err)

	out, err := c.run(t, false, "channels", "list")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "channels_list", []byte(out))
}

func TestIndexSearchAndStats(t *testing.T) {
	c := newTestCLI(t)
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.conn.AddChannel("gonews", "Go News",
		&source.Message{ID: 1, Text: "hello world", Date: date, Views: 3},
		&source.Message{ID: 2, Text: "HELLO there", Date: date.Add(time.Hour), Views: 30},
		&source.Message{ID: 3, Date: date.Add(2 * time.Hour)},
	)

	out, err := c.run(t, true, "index", "gonews", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "created 2, updated 0, skipped 1, total 3")

	out, err = c.run(t, true, "index", "gonews", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "created 0, updated 2, skipped 1")

	out, err = c.run(t, false, "search", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 results")
	assert.Less(t, strings.Index(out, "#2"), strings.Index(out, "#1"))

	out, err = c.run(t, false, "search", "xyz")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found")

	out, err = c.run(t, false, "stats", "gonews")
	require.NoError(t, err)
	assert.Contains(t, out, "Messages:       2")
	assert.Contains(t, out, "Total views:    33")

	out, err = c.run(t, false, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Messages in store:   2")
}

func TestIndexAll(t *testing.T) {
	c := newTestCLI(t)
	c.conn.AddChannel("a", "A", &source.Message{ID: 1, Text: "one", Date: time.Now()})

	_, err := c.run(t, false, "channels", "add", "a")
	require.NoError(t, err)
	_, err = c.run(t, false, "channels", "add", "missing")
	require.NoError(t, err)

	out, err := c.run(t, true, "index-all")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 channels, 1 failed")
}

func TestIndexFailureReturnsError(t *testing.T) {
	c := newTestCLI(t)

	out, err := c.run(t, true, "index", "missing")
	assert.ErrorIs(t, err, source.ErrEntityNotFound)
	assert.Contains(t, out, "✗ missing")
}

func TestCrawlingRequiresSource(t *testing.T) {
	c := newTestCLI(t)

	for _, args := range [][]string{{"index", "gonews"}, {"index-all"}, {"update"}} {
		_, err := c.run(t, false, args...)
		assert.ErrorContains(t, err, config.EnvSourceURL, strings.Join(args, " "))
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseSince("48h", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(now.Add(-48*time.Hour)))

	got, err = parseSince("2024-06-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	_, err = parseSince("last week", now)
	assert.Error(t, err)
	_, err = parseSince("-1h", now)
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc"))

	long := strings.Repeat("é", previewLength+10)
	p := preview(long)
	assert.Equal(t, previewLength+1, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))
}
