package packaging

import (
	"bytes"
	"fmt"

	"github.com/sagenxt/WorkerConnect-sub001/zip"
)

// BuildPlaceholder returns an installable-looking package for the platform.
// It only carries the format's required manifest; nothing in it runs.
func BuildPlaceholder(p Platform, app AppInfo, opts zip.Options) ([]byte, error) {
	if app.Name == "" {
		return nil, fmt.Errorf("packaging: app name is required")
	}
	entries, err := Layout(p, app)
	if err != nil {
		return nil, err
	}

	if len(entries) == 1 && !entries[0].IsDir() {
		b, err := zip.BuildSingleEntry(entries[0].Name, entries[0].Content, opts)
		if err != nil {
			return nil, fmt.Errorf("packaging: %s placeholder: %w", p, err)
		}
		return b, nil
	}

	var buf bytes.Buffer
	zw := zip.NewZipWriter(&buf, opts)
	for _, e := range entries {
		if e.IsDir() {
			err = zw.AddDir(e.Name)
		} else {
			err = zw.AddFile(e.Name, e.Content)
		}
		if err != nil {
			return nil, fmt.Errorf("packaging: %s placeholder: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("packaging: %s placeholder: %w", p, err)
	}
	return buf.Bytes(), nil
}

// IsPlaceholder reports whether data is a package BuildPlaceholder would
// produce for p: a parseable archive holding exactly the placeholder layout.
func IsPlaceholder(p Platform, app AppInfo, data []byte) bool {
	want, err := Layout(p, app)
	if err != nil {
		return false
	}
	a, err := zip.InspectBytes(data)
	if err != nil || len(a.Entries) != len(want) {
		return false
	}
	for i, e := range a.Entries {
		if e.Name() != want[i].Name {
			return false
		}
	}
	return true
}
