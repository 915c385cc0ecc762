// Package webdav implements the minimal WebDAV client the sync engine needs:
// one authenticated HTTP call per method, uniform error classification and
// retry of transient network failures. It is not a general-purpose DAV
// library; locking, COPY/MOVE and property writes are out of scope.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	gopath "path"
	"strings"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// propfindBody requests the minimal property set the engine consumes.
const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getetag/>
    <d:getcontenttype/>
  </d:prop>
</d:propfind>`

// Config holds the connection parameters for one WebDAV endpoint. Exactly
// one of the basic pair (Username/Password) or Token is expected to be set.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Token    string

	// Timeout bounds each request attempt. Zero means 30s.
	Timeout time.Duration
	// MaxRetries is the retry budget for network-level failures. Zero means
	// 3; negative disables retries.
	MaxRetries int
	// RetryDelay is the base backoff delay; attempt n waits n × RetryDelay.
	// Zero means 1s.
	RetryDelay time.Duration
}

// Client issues authenticated WebDAV requests with classification and retry.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	username   string
	password   string
	token      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     engine.Logger
}

// NewClient builds a client for the given endpoint. The base URL must be
// absolute; a trailing slash is tolerated.
func NewClient(cfg Config, logger engine.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, engine.NewError(engine.KindValidation, fmt.Sprintf("invalid endpoint URL %q", cfg.BaseURL), err)
	}
	if !base.IsAbs() {
		return nil, engine.NewError(engine.KindValidation, fmt.Sprintf("endpoint URL %q is not absolute", cfg.BaseURL), nil)
	}
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	c := &Client{
		httpClient: &http.Client{},
		base:       base,
		username:   cfg.Username,
		password:   cfg.Password,
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	} else if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c, nil
}

// ConnectTest verifies the endpoint answers authenticated requests. Servers
// that reject OPTIONS outright get a PROPFIND Depth 0 fallback.
func (c *Client) ConnectTest(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodOptions, "/", nil, nil)
	if err == nil {
		defer resp.Body.Close()
		drain(resp.Body)
		if success(resp.StatusCode) {
			return nil
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			return classifyStatus(resp.StatusCode, "connection test")
		}
	}

	resp, err = c.do(ctx, "PROPFIND", "/", []byte(propfindBody), http.Header{
		"Depth":        []string{"0"},
		"Content-Type": []string{`application/xml; charset="utf-8"`},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)
	if !success(resp.StatusCode) {
		return classifyStatus(resp.StatusCode, "connection test")
	}
	return nil
}

// EnsureDirectory creates the collection at path. An already existing
// collection (405) counts as success.
func (c *Client) EnsureDirectory(ctx context.Context, path string) error {
	resp, err := c.do(ctx, "MKCOL", path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusMethodNotAllowed:
		return nil
	}
	if success(resp.StatusCode) {
		return nil
	}
	return classifyStatus(resp.StatusCode, fmt.Sprintf("creating directory %s", path))
}

// Exists probes path with HEAD. Any response other than 200 counts as
// absent, including transport failures.
func (c *Client) Exists(ctx context.Context, path string) bool {
	resp, err := c.do(ctx, http.MethodHead, path, nil, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	drain(resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Get fetches the object at path, returning its bytes and the metadata the
// response headers carry.
func (c *Client) Get(ctx context.Context, path string) ([]byte, *engine.RemoteFileInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if !success(resp.StatusCode) {
		drain(resp.Body)
		return nil, nil, classifyStatus(resp.StatusCode, fmt.Sprintf("fetching %s", path))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, engine.NewError(engine.KindNetwork, fmt.Sprintf("reading body of %s", path), err)
	}
	info := &engine.RemoteFileInfo{
		Path:        path,
		Name:        gopath.Base(path),
		Size:        int64(len(data)),
		ETag:        resp.Header.Get("ETag"),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return data, info, nil
}

// Put stores data at path, creating the parent collection when needed. The
// content type is derived from the path's extension.
func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	if dir := gopath.Dir(path); dir != "." && dir != "/" {
		if err := c.EnsureDirectory(ctx, dir); err != nil {
			// The PUT below gives the authoritative error.
			c.logger.Debug("ensure parent directory failed", "path", dir, "error", err)
		}
	}
	resp, err := c.do(ctx, http.MethodPut, path, data, http.Header{
		"Content-Type": []string{contentTypeFor(path)},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)
	if !success(resp.StatusCode) {
		return classifyStatus(resp.StatusCode, fmt.Sprintf("storing %s", path))
	}
	return nil
}

// Delete removes the object at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	drain(resp.Body)
	if !success(resp.StatusCode) {
		return classifyStatus(resp.StatusCode, fmt.Sprintf("deleting %s", path))
	}
	return nil
}

// List enumerates the direct children of the collection at dir. The
// collection's own entry is filtered out.
func (c *Client) List(ctx context.Context, dir string) ([]engine.RemoteFileInfo, error) {
	resp, err := c.do(ctx, "PROPFIND", dir, []byte(propfindBody), http.Header{
		"Depth":        []string{"1"},
		"Content-Type": []string{`application/xml; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if !success(resp.StatusCode) {
		drain(resp.Body)
		return nil, classifyStatus(resp.StatusCode, fmt.Sprintf("listing %s", dir))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewError(engine.KindNetwork, fmt.Sprintf("reading listing of %s", dir), err)
	}
	infos, err := parseMultistatus(body)
	if err != nil {
		return nil, err
	}
	return c.dropSelf(infos, dir), nil
}

// FileInfo fetches the metadata of a single resource. A missing resource
// returns (nil, nil).
func (c *Client) FileInfo(ctx context.Context, path string) (*engine.RemoteFileInfo, error) {
	resp, err := c.do(ctx, "PROPFIND", path, []byte(propfindBody), http.Header{
		"Depth":        []string{"0"},
		"Content-Type": []string{`application/xml; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return nil, nil
	}
	if !success(resp.StatusCode) {
		drain(resp.Body)
		return nil, classifyStatus(resp.StatusCode, fmt.Sprintf("inspecting %s", path))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewError(engine.KindNetwork, fmt.Sprintf("reading properties of %s", path), err)
	}
	infos, err := parseMultistatus(body)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

// do issues one request, retrying network-level failures and timeouts with
// linearly increasing delay. Each attempt carries its own timeout. The
// response body is the caller's to close.
func (c *Client) do(ctx context.Context, method, path string, body []byte, hdr http.Header) (*http.Response, error) {
	target := c.url(path)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Warn("retrying request", "method", method, "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, classifyNet(ctx.Err(), method, path)
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.once(attemptCtx, method, target, body, hdr)
		if err == nil {
			// Cancel fires when the body is closed; tie them together so
			// the caller can stream the body past this loop.
			resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
			c.logger.Debug("request complete", "method", method, "path", path, "status", resp.StatusCode)
			return resp, nil
		}
		cancel()

		classified := classifyNet(err, method, path)
		if !engine.IsRetryable(classified) {
			return nil, classified
		}
		// Give up immediately when the parent context is done; only the
		// per-attempt deadline is worth retrying.
		if ctx.Err() != nil {
			return nil, classified
		}
		lastErr = classified
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, target string, body []byte, hdr http.Header) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}

// url resolves a path against the endpoint. Hrefs from PROPFIND responses
// already carry the endpoint's path prefix and are used verbatim.
func (c *Client) url(p string) string {
	u := *c.base
	if u.Path != "" && u.Path != "/" && strings.HasPrefix(p, u.Path) {
		u.Path = p
	} else {
		u.Path = gopath.Join(u.Path, p)
	}
	u.RawPath = ""
	return u.String()
}

// dropSelf removes the listed collection's own entry from its listing.
func (c *Client) dropSelf(infos []engine.RemoteFileInfo, dir string) []engine.RemoteFileInfo {
	self := strings.TrimRight(c.url(dir), "/")
	out := infos[:0]
	for _, info := range infos {
		if strings.TrimRight(c.url(info.Path), "/") == self {
			continue
		}
		out = append(out, info)
	}
	return out
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(gopath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func success(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusMultiStatus
}

// classifyStatus maps a non-success HTTP status to an error kind.
func classifyStatus(status int, action string) *engine.Error {
	var kind engine.Kind
	var msg string
	switch {
	case status == http.StatusUnauthorized:
		kind, msg = engine.KindAuth, "authentication failed"
	case status == http.StatusForbidden:
		kind, msg = engine.KindForbidden, "access forbidden"
	case status == http.StatusNotFound:
		kind, msg = engine.KindNotFound, "not found"
	case status == http.StatusConflict:
		kind, msg = engine.KindConflict, "conflicting remote state"
	case status == http.StatusLocked:
		kind, msg = engine.KindLocked, "resource locked"
	case status >= 500:
		kind, msg = engine.KindServer, "server error"
	default:
		kind, msg = engine.KindServer, fmt.Sprintf("unexpected status %d", status)
	}
	return &engine.Error{Kind: kind, Status: status, Message: fmt.Sprintf("%s: %s", action, msg)}
}

// classifyNet maps a transport-level failure to an error kind.
func classifyNet(err error, method, path string) *engine.Error {
	msg := fmt.Sprintf("%s %s", method, path)
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewError(engine.KindTimeout, msg+": request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return engine.NewError(engine.KindTimeout, msg+": request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewError(engine.KindNetwork, msg+": request canceled", err)
	}
	return engine.NewError(engine.KindNetwork, msg+": network failure", err)
}

// cancelReadCloser releases the per-attempt timeout once the response body
// is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
