package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/scenario"
)

func failingReport(t *testing.T) *scenario.Report {
	t.Helper()
	shot := filepath.Join(t.TempDir(), "Blog-app-like.png")
	require.NoError(t, os.WriteFile(shot, []byte("\x89PNG"), 0o644))

	return &scenario.Report{
		RunID:    "run-42",
		Started:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration: time.Second,
		Results: []scenario.Result{
			{Name: "Blog app/has title", Status: scenario.Passed},
			{
				Name:       "Blog app/like",
				Status:     scenario.Failed,
				Step:       "like",
				Err:        errs.Assertf("likes stayed at 0"),
				Screenshot: shot,
			},
		},
	}
}

func TestUpload_ReportsAndScreenshots(t *testing.T) {
	store := TestStore(t, "ci-artifacts", "https://cdn.test/ci-artifacts")
	u := &Uploader{Store: store, Prefix: "/blogcheck/"}

	objects, err := u.Upload(context.Background(), failingReport(t))
	require.NoError(t, err)
	require.Len(t, objects, 3)

	assert.Equal(t, "blogcheck/run-42/report.json", objects[0].Key)
	assert.Equal(t, "blogcheck/run-42/junit.xml", objects[1].Key)
	assert.Equal(t, "blogcheck/run-42/screenshots/Blog-app-like.png", objects[2].Key)
	assert.Equal(t, "Blog app/like", objects[2].Case)
	assert.Equal(t, "https://cdn.test/ci-artifacts/blogcheck/run-42/screenshots/Blog-app-like.png", objects[2].URL)

	data, err := store.Get(context.Background(), objects[0].Key)
	require.NoError(t, err)
	var decoded struct {
		RunID  string `json:"run_id"`
		Passed bool   `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-42", decoded.RunID)
	assert.False(t, decoded.Passed)

	png, err := store.Get(context.Background(), objects[2].Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png)
}

func TestUpload_MissingScreenshotIsSkipped(t *testing.T) {
	var logs bytes.Buffer
	restore := obs.SetOutputForTests(&logs)
	defer restore()

	store := TestStore(t, "ci-artifacts", "")
	rep := failingReport(t)
	rep.Results[1].Screenshot = filepath.Join(t.TempDir(), "gone.png")

	objects, err := (&Uploader{Store: store, Prefix: "p"}).Upload(context.Background(), rep)
	require.NoError(t, err)
	assert.Len(t, objects, 2)
	assert.Equal(t, "s3://ci-artifacts/p/run-42/report.json", objects[0].URL)
	assert.Contains(t, logs.String(), "screenshot_missing")
}

func TestStore_GetMissing(t *testing.T) {
	store := TestStore(t, "ci-artifacts", "")
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
