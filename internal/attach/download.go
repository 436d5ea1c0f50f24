package attach

import (
	"context"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jorgenin/expense-migration/internal/errors"
)

// Downloader fetches a remote file to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// HTTPDownloader downloads attachments over HTTP with resty.
type HTTPDownloader struct {
	client *resty.Client
}

// NewHTTPDownloader creates a downloader. Attachment URLs handed out by the
// table service are pre-signed, so no credentials are sent.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	c := resty.New().
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPDownloader{client: c}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, url, dst string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetOutput(dst).
		Get(url)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	if resp.IsError() {
		_ = os.Remove(dst)
		return errors.Newf("download %s: HTTP %d", url, resp.StatusCode())
	}
	return nil
}
