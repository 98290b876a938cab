// Package remote is the JSON-over-HTTP plumbing shared by the collaborator
// clients.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// TokenHeader carries the service token expected by platform services.
const TokenHeader = "X-Access-Token"

// DefaultTimeout bounds a call made through New.
const DefaultTimeout = 10 * time.Second

var defaultHTTPClient = &http.Client{Timeout: DefaultTimeout}

// Client calls one collaborator service. It is safe for concurrent use and is
// never mutated by Do.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client with the default timeout.
func New(baseURL, token string) *Client {
	return NewWithTimeout(baseURL, token, DefaultTimeout)
}

// NewWithTimeout creates a client whose calls are bounded by timeout. A
// non-positive timeout means DefaultTimeout.
func NewWithTimeout(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{BaseURL: baseURL, Token: token, HTTPClient: &http.Client{Timeout: timeout}}
}

// StatusError wraps non-2xx responses. Type, Code and Message are read from
// the body when it is a JSON error document.
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Type    string
	Code    string
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, msg)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	se, ok := AsStatus(err)
	return ok && se.Status == status
}

// AsStatus unwraps err to a StatusError.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Do sends body as JSON and decodes the response into out. Either may be nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set(TokenHeader, c.Token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newStatusError(method, endpoint, resp.StatusCode, b)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func newStatusError(method, endpoint string, status int, body []byte) *StatusError {
	se := &StatusError{Method: method, URL: endpoint, Status: status, Body: body}
	if !gjson.ValidBytes(body) {
		return se
	}
	doc := gjson.ParseBytes(body)
	// Platform services nest the payload under "error"; the workflow engine
	// does not.
	if e := doc.Get("error"); e.IsObject() {
		doc = e
	}
	se.Type = doc.Get("type").String()
	se.Code = doc.Get("code").String()
	se.Message = doc.Get("message").String()
	return se
}
