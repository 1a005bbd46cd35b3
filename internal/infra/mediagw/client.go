// Package mediagw provides a client for the remote search/download backend.
package mediagw

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/osa030/voicetube/internal/domain/media"
)

var (
	// ErrNotFound is returned when the backend has no result for a query.
	ErrNotFound = errors.New("no matching video")
	// ErrMalformedResponse is returned when the backend answers with an unexpected body.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// Client is a media backend API client.
type Client struct {
	baseURL         *url.URL
	defaultLanguage string
	httpClient      *http.Client
}

// Config represents media backend client configuration.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	DefaultLanguage string // Base language that is not sent to the backend
}

// SearchResponse represents the response from the search endpoint.
type SearchResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Video   *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"video,omitempty"`
}

// DownloadResponse represents the response from the download endpoint.
type DownloadResponse struct {
	Link string `json:"link"`
}

// CacheResponse represents the response from the cache endpoint.
type CacheResponse struct {
	Downloaded bool `json:"downloaded"`
}

// New creates a new media backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("media backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse media backend base URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("media backend base URL must be absolute: %s", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lang := cfg.DefaultLanguage
	if lang == "" {
		lang = "en"
	}

	return &Client{
		baseURL:         base,
		defaultLanguage: lang,
		httpClient:      &http.Client{Timeout: timeout},
	}, nil
}

// Search looks up the best match for query.
// The language parameter is only sent for locales whose base language differs
// from the default.
func (c *Client) Search(ctx context.Context, query, languageTag string) (*media.Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query is required")
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(query))
	reqURL := c.endpoint("search", encoded)
	if lang := c.searchLanguage(languageTag); lang != "" {
		params := url.Values{}
		params.Set("language", lang)
		reqURL += "?" + params.Encode()
	}

	var response SearchResponse
	if err := c.get(ctx, reqURL, &response); err != nil {
		return nil, errors.Wrap(err, "search failed")
	}

	if response.Status == "error" {
		zlog.Debug().Msgf("mediagw: search returned error status: query=%q message=%q", query, response.Message)
		return nil, ErrNotFound
	}
	if response.Video == nil || response.Video.ID == "" {
		return nil, ErrNotFound
	}

	return &media.Candidate{
		RemoteID: response.Video.ID,
		Title:    response.Video.Title,
		Link:     c.resolve(response.Video.Link),
	}, nil
}

// Download asks the backend to fetch the video and returns its playable link.
// The link is returned before the asset is necessarily ready.
func (c *Client) Download(ctx context.Context, remoteID string) (string, error) {
	if remoteID == "" {
		return "", errors.New("remote id is required")
	}

	var response DownloadResponse
	if err := c.get(ctx, c.endpoint("download", remoteID), &response); err != nil {
		return "", errors.Wrapf(err, "download %s failed", remoteID)
	}
	if response.Link == "" {
		return "", errors.Wrapf(ErrMalformedResponse, "download %s returned no link", remoteID)
	}

	return c.resolve(response.Link), nil
}

// CacheStatus reports whether the backend has finished preparing the asset.
func (c *Client) CacheStatus(ctx context.Context, remoteID string) (bool, error) {
	if remoteID == "" {
		return false, errors.New("remote id is required")
	}

	var response CacheResponse
	if err := c.get(ctx, c.endpoint("cache", remoteID), &response); err != nil {
		return false, errors.Wrapf(err, "cache status %s failed", remoteID)
	}
	return response.Downloaded, nil
}

// endpoint builds "<base>/<name>/<escaped segment>".
func (c *Client) endpoint(name, segment string) string {
	return c.baseURL.String() + "/" + name + "/" + url.PathEscape(segment)
}

// searchLanguage returns the base language to send, or "" for the default.
func (c *Client) searchLanguage(languageTag string) string {
	if languageTag == "" {
		return ""
	}
	tag, err := language.Parse(languageTag)
	if err != nil {
		zlog.Debug().Msgf("mediagw: ignoring unparsable locale %q: %v", languageTag, err)
		return ""
	}
	base, _ := tag.Base()
	if base.String() == c.defaultLanguage {
		return ""
	}
	return base.String()
}

// resolve turns backend-relative links into absolute URLs.
func (c *Client) resolve(link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	return c.baseURL.ResolveReference(ref).String()
}

func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	zlog.Debug().Msgf("mediagw: GET %s status=%d elapsed=%v", reqURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrap(ErrMalformedResponse, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(errors.Mark(err, ErrMalformedResponse), "failed to parse response")
	}
	return nil
}
