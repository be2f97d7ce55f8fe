package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const shopDefinition = `{
  "id": "shop",
  "name": "Shop listing",
  "enabled": true,
  "schedule": "0 */2 * * *",
  "scrapeConfig": {
    "baseUrl": "https://shop.example.com/list",
    "pagination": {"enabled": true, "startPage": 1, "endPage": 20},
    "actions": [{"type": "navigate", "url": "{{url}}"}],
    "rateLimit": {"delayBetweenPages": 1000, "batchSize": 5}
  }
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-shop.json", shopDefinition)
	writeFile(t, dir, "a-bundle.json", `[
	  {"id": "news", "name": "News", "enabled": true, "schedule": "0 6 * * *", "scrapeConfig": {"baseUrl": "https://news.example.com"}},
	  {"id": "nameless", "enabled": true, "schedule": "0 6 * * *", "scrapeConfig": {"baseUrl": "https://x.example.com"}}
	]`)
	writeFile(t, dir, "c-broken.json", `{"id": "broken",`)
	writeFile(t, dir, "notes.txt", "not a schedule")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0755))

	report, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, report.Results, 4)

	assert.Equal(t, "a-bundle.json[0]", report.Results[0].Source)
	assert.Equal(t, "a-bundle.json[1]", report.Results[1].Source)
	assert.Equal(t, "b-shop.json", report.Results[2].Source)
	assert.Equal(t, "c-broken.json", report.Results[3].Source)

	loaded := report.Loaded()
	require.Len(t, loaded, 2)
	assert.Equal(t, "news", loaded[0].ID)
	assert.Equal(t, "shop", loaded[1].ID)

	shop := loaded[1]
	assert.True(t, shop.ScrapeConfig.Paginated())
	assert.Equal(t, 5, shop.ScrapeConfig.RateLimit.Batch())
	assert.Len(t, shop.ScrapeConfig.Pagination.Pages(), 20)

	failed := report.Failed()
	require.Len(t, failed, 2)
	for _, f := range failed {
		assert.ErrorIs(t, f.Err, ErrInvalidSchedule)
	}
	assert.Len(t, multierr.Errors(report.Err()), 2)
}

func TestLoadDir_Errors(t *testing.T) {
	t.Run("Missing directory", func(t *testing.T) {
		_, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})

	t.Run("Empty directory", func(t *testing.T) {
		report, err := LoadDir(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, report.Results)
		assert.NoError(t, report.Err())
	})

	t.Run("Inverted page range is valid", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "empty.json", `{"id": "e", "name": "E", "enabled": true, "schedule": "@hourly",
		  "scrapeConfig": {"baseUrl": "https://e.example.com", "pagination": {"enabled": true, "startPage": 5, "endPage": 1}}}`)

		report, err := LoadDir(dir)
		require.NoError(t, err)
		assert.NoError(t, report.Err())
		require.Len(t, report.Loaded(), 1)
		assert.Empty(t, report.Loaded()[0].ScrapeConfig.Pagination.Pages())
	})
}
