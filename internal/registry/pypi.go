// Package registry asks the Python Package Index whether a distribution name
// exists, with an optional on-disk cache of the answers.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURL is the PyPI JSON API root.
const DefaultURL = "https://pypi.org/pypi"

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 5 * time.Second

// Lookuper reports whether a distribution exists and its canonical name.
type Lookuper interface {
	Exists(ctx context.Context, name string) (canonical string, ok bool, err error)
}

// Client queries the PyPI JSON API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

// NewClient returns a client for baseURL. An empty baseURL means DefaultURL
// and a zero timeout means DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    http.DefaultClient,
		Timeout: timeout,
	}
}

type projectInfo struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
}

// Exists fetches <BaseURL>/<name>/json. A 404 means the name is unknown.
func (c *Client) Exists(ctx context.Context, name string) (string, bool, error) {
	if strings.TrimSpace(name) == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	endpoint := c.BaseURL + "/" + url.PathEscape(name) + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, fmt.Errorf("building request for %s: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("querying %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, fmt.Errorf("querying %s: unexpected status %s", name, resp.Status)
	}

	var info projectInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&info); err != nil {
		return "", false, fmt.Errorf("decoding metadata for %s: %w", name, err)
	}
	canonical := info.Info.Name
	if canonical == "" {
		canonical = name
	}
	return canonical, true, nil
}
