// Package graph is a small client for the Facebook Graph API shared by the
// Facebook Page and Instagram targets.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v19.0"

	defaultTimeout  = 60 * time.Second
	defaultRetryMax = 3
	maxResponseSize = 4 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	Version     string
	AccessToken string
	Timeout     time.Duration
	RetryMax    int
	// RequestsPerMinute caps outgoing calls; zero disables the limiter.
	RequestsPerMinute int
}

// Client issues Graph API requests with retries and an optional rate limit.
type Client struct {
	http    *retryablehttp.Client
	base    string
	token   string
	limiter *rate.Limiter
}

// New returns a Client for cfg, filling in defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = defaultRetryMax
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logutil.Leveled(logutil.With("component", "graph"))

	c := &Client{
		http:  rc,
		base:  strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Version, "/"),
		token: cfg.AccessToken,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c
}

// Token returns the access token used when a call does not supply its own.
func (c *Client) Token() string { return c.token }

// Get calls GET path with params and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	params = c.withToken(params)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(ctx, req, out)
}

// PostForm calls POST path with a urlencoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	form = c.withToken(form)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), []byte(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req, out)
}

// File is a binary part of a multipart upload.
type File struct {
	Field       string
	Name        string
	ContentType string
	Body        io.Reader
}

// PostMultipart calls POST path with fields and one file part.
func (c *Client) PostMultipart(ctx context.Context, path string, fields url.Values, file File, out any) error {
	fields = c.withToken(fields)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(key, v); err != nil {
				return fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}
	if file.Body != nil {
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name)}
		header["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(header)
		if err != nil {
			return fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, file.Body); err != nil {
			return fmt.Errorf("copy file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), buf.Bytes())
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, req *retryablehttp.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	// With the passthrough error handler a final 5xx comes back as both a
	// response and an error; the response carries the better message.
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Error *Error `json:"error"`
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &envelope)
	}
	if envelope.Error != nil {
		envelope.Error.Status = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.base + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) withToken(v url.Values) url.Values {
	out := url.Values{}
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	if out.Get("access_token") == "" && c.token != "" {
		out.Set("access_token", c.token)
	}
	return out
}

// checkRetry never replays a non-GET request the server answered, since the
// post may already exist.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
