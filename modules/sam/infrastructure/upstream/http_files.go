package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

type HTTPFileOptions struct {
	BaseURL string
	APIKey  string
	DestDir string

	HTTPClient *http.Client
	Retrier    Retrier
	Logger     *logrus.Entry
}

// HTTPFileClient downloads extracts from the file API by name. The API has no listing.
type HTTPFileClient struct {
	opts HTTPFileOptions
	base *url.URL
}

func NewHTTPFileClient(opts HTTPFileOptions) (*HTTPFileClient, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("%w: missing upstream.http-api-url", samerrors.ErrConfigInvalid)
	}
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: upstream.http-api-url: %v", samerrors.ErrConfigInvalid, err)
	}
	if opts.DestDir == "" {
		return nil, fmt.Errorf("%w: missing file-storage-path", samerrors.ErrConfigInvalid)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Retrier.Logger == nil {
		opts.Retrier.Logger = opts.Logger
	}
	return &HTTPFileClient{opts: opts, base: base}, nil
}

func (c *HTTPFileClient) fileURL(name string) string {
	u := *c.base
	q := u.Query()
	if c.opts.APIKey != "" {
		q.Set("api_key", c.opts.APIKey)
	}
	q.Set("fileName", name)
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch downloads name into DestDir. Status 400 means the file does not exist and fails with
// ErrFileNotFound; other failures are retried.
func (c *HTTPFileClient) Fetch(ctx context.Context, name string) (string, error) {
	var path string
	err := c.opts.Retrier.Do(ctx, "fetch "+name, func(ctx context.Context) error {
		var err error
		path, err = c.fetchOnce(ctx, name)
		return err
	})
	if err != nil {
		return "", err
	}
	c.opts.Logger.WithField("file", name).Info("downloaded extract")
	return path, nil
}

func (c *HTTPFileClient) fetchOnce(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(name), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", samerrors.ErrConfigInvalid, err)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "get %s", name)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", samerrors.ErrFileNotFound, name)
	case resp.StatusCode/100 != 2:
		return "", fmt.Errorf("get %s: status %d", name, resp.StatusCode)
	}
	return writeFile(c.opts.DestDir, name, resp.Body)
}
