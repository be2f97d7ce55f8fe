package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shop.json", shopDefinition)

	r := NewRegistry(&fakeRunner{}, zaptest.NewLogger(t))
	_, err := r.Reload(dir)
	require.NoError(t, err)
	require.NoError(t, r.RegisterAll("UTC"))
	defer r.StopAll()
	require.Equal(t, 1, r.Stats().ActiveJobs)

	w, err := NewWatcher(r, dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	w.reloaded = make(chan LoadReport, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeFile(t, dir, "news.json", `{"id": "news", "name": "News", "enabled": true, "schedule": "0 6 * * *",
	  "scrapeConfig": {"baseUrl": "https://news.example.com"}}`)

	select {
	case report := <-w.reloaded:
		assert.NoError(t, report.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}

	require.Eventually(t, func() bool {
		stats := r.Stats()
		return stats.TotalSchedules == 2 && stats.ActiveJobs == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "shop.json")))
	require.Eventually(t, func() bool {
		_, err := r.Get("shop")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, r.Stats().ActiveJobs)
}
