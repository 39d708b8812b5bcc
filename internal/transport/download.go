package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Veraticus/fencewatch/internal/common"
)

// ProgressFunc receives the fraction of the body written so far. It is only
// called when the server announces a content length.
type ProgressFunc func(fraction float64)

type progressWriter struct {
	onProgress ProgressFunc
	total      int64
	written    int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.onProgress != nil && w.total > 0 {
		w.onProgress(float64(w.written) / float64(w.total))
	}
	return len(p), nil
}

// Download fetches path into a new file under dir and returns its location.
// Attempts are retried like Do; a partially written file is removed before
// the next attempt. The error is *StatusError, ErrCancelled or a wrapped
// network error.
func (c *Client) Download(ctx context.Context, path string, query url.Values, dir string, progress ProgressFunc) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	target := c.URL(path, query)
	var location string

	err := common.WithRetry(ctx, func() error {
		if err := c.wait(ctx); err != nil {
			return err
		}

		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return common.Permanent(err)
		}

		resp, err := c.download.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return common.Permanent(err)
			}
			return fmt.Errorf("GET %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: body}
		}

		file := filepath.Join(dir, uuid.NewString()+".json")
		out, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return common.Permanent(fmt.Errorf("failed to create download file: %w", err))
		}

		counter := &progressWriter{onProgress: progress, total: resp.ContentLength}
		_, copyErr := io.Copy(io.MultiWriter(out, counter), resp.Body)
		closeErr := out.Close()
		if copyErr != nil || closeErr != nil {
			_ = os.Remove(file)
			if ctx.Err() != nil {
				return common.Permanent(errors.Join(copyErr, closeErr))
			}
			return fmt.Errorf("failed to write download: %w", errors.Join(copyErr, closeErr))
		}

		location = file
		return nil
	}, c.retryOptions())

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", ErrCancelled
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return "", statusErr
		}
		return "", err
	}

	slog.Debug("Download complete", "path", path, "file", location)
	return location, nil
}
