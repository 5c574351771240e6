package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher is the storage/network collaborator that materializes a model's
// components under destRoot. Progress is reported as a fraction in [0,1].
type Fetcher interface {
	Fetch(ctx context.Context, desc Descriptor, destRoot string, progress func(float64)) error
}

// HTTPFetcher downloads each component's weights from a registry laid out as
// <base>/<download-id>/<component>/weights.bin.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Minute},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, desc Descriptor, destRoot string, progress func(float64)) error {
	total := len(desc.Components)
	if total == 0 {
		return fmt.Errorf("model %s has no components", desc.ID)
	}
	for i, component := range desc.Components {
		base := float64(i) / float64(total)
		span := 1.0 / float64(total)
		if err := f.fetchComponent(ctx, desc, component, destRoot, func(frac float64) {
			if progress != nil {
				progress(base + frac*span)
			}
		}); err != nil {
			return fmt.Errorf("fetch component %s: %w", component, err)
		}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

func (f *HTTPFetcher) fetchComponent(ctx context.Context, desc Descriptor, component, destRoot string, progress func(float64)) error {
	url := fmt.Sprintf("%s/%s/%s/weights.bin", f.BaseURL, desc.DownloadID, component)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	dir := filepath.Join(destRoot, component)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "weights_*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	writer := &progressWriter{total: resp.ContentLength, report: progress}
	if _, err := io.Copy(io.MultiWriter(tmp, writer), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, "weights.bin"))
}

type progressWriter struct {
	total   int64
	written int64
	report  func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.report != nil && w.total > 0 {
		frac := float64(w.written) / float64(w.total)
		if frac > 1 {
			frac = 1
		}
		w.report(frac)
	}
	return len(p), nil
}
