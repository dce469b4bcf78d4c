package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/report"
	"github.com/kuitang/blogcheck/internal/scenario"
)

// Object is one uploaded artifact.
type Object struct {
	Key  string
	URL  string
	Case string // empty for run-level reports
}

// Uploader writes one run's artifacts under prefix/<run id>/.
type Uploader struct {
	Store  *Store
	Prefix string
}

// RunPrefix returns the key prefix for a run.
func (u *Uploader) RunPrefix(runID string) string {
	return path.Join(strings.Trim(u.Prefix, "/"), runID)
}

// Upload stores the JSON and JUnit reports and every failure screenshot.
// A screenshot missing from disk is logged and skipped.
func (u *Uploader) Upload(ctx context.Context, rep *scenario.Report) ([]Object, error) {
	logger := obs.From(ctx).With("pkg", "artifacts")
	base := u.RunPrefix(rep.RunID)
	var objects []Object

	for _, r := range []struct {
		name        string
		contentType string
		write       report.Writer
	}{
		{"report.json", "application/json", report.WriteJSON},
		{"junit.xml", "application/xml", report.WriteJUnit},
	} {
		var buf bytes.Buffer
		if err := r.write(&buf, rep); err != nil {
			return objects, errs.Wrap(errs.Internal, "render "+r.name, err)
		}
		key := path.Join(base, r.name)
		if err := u.Store.Put(ctx, key, buf.Bytes(), r.contentType); err != nil {
			return objects, errs.Wrap(errs.Unavailable, "upload "+r.name, err)
		}
		objects = append(objects, Object{Key: key, URL: u.Store.URL(key)})
	}

	for _, res := range rep.Results {
		if res.Screenshot == "" {
			continue
		}
		data, err := os.ReadFile(res.Screenshot)
		if err != nil {
			logger.Warn("screenshot_missing", "case", res.Name, "path", res.Screenshot, "err", err)
			continue
		}
		key := path.Join(base, "screenshots", filepath.Base(res.Screenshot))
		if err := u.Store.Put(ctx, key, data, "image/png"); err != nil {
			return objects, errs.Wrap(errs.Unavailable, fmt.Sprintf("upload screenshot for %s", res.Name), err)
		}
		objects = append(objects, Object{Key: key, URL: u.Store.URL(key), Case: res.Name})
	}

	logger.Info("artifacts_uploaded", "bucket", u.Store.BucketName(), "prefix", base, "objects", len(objects))
	return objects, nil
}
