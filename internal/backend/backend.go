// Package backend submits documents to the ERP system. Two protocol styles
// are supported: an OData structured endpoint taking one deep-insert call per
// document and a SOAP service taking an XML envelope of several documents
// behind a CSRF token handshake.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/metrics"
	"github.com/yourorg/erp-loader/internal/response"
	"github.com/yourorg/erp-loader/internal/types"
)

const (
	// DefaultTimeout bounds one HTTP exchange.
	DefaultTimeout = 60 * time.Second

	maxBody = 16 << 20

	headerCSRF = "X-CSRF-Token"
)

// Adapter submits one document and normalizes the backend's answer.
// Business rejections are returned as Error outcomes; a non-nil error means
// the call itself failed (network, token, unreadable server error).
// Adapters never modify the document.
type Adapter interface {
	Name() string
	SubmitDocument(ctx context.Context, doc types.Document) (types.Outcome, error)
}

// EnvelopeSubmitter is implemented by adapters that send several documents
// in one request. Outcomes are returned in document order.
type EnvelopeSubmitter interface {
	Adapter
	SubmitEnvelope(ctx context.Context, docs []types.Document) ([]types.Outcome, error)
}

// Conn holds what both adapters need to talk to the backend.
type Conn struct {
	BaseURL  string
	User     string
	Password string
	Client   *http.Client // default: new client with DefaultTimeout and a cookie jar
	Logger   *zap.Logger
}

func (c Conn) withDefaults() Conn {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Client == nil {
		jar, _ := cookiejar.New(nil)
		c.Client = &http.Client{Timeout: DefaultTimeout, Jar: jar}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Conn) url(path string) string {
	if path == "" {
		return c.BaseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

func (c Conn) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}
	return req, nil
}

// do executes req and returns the raw response with the body read.
func (c Conn) do(req *http.Request, adapter string) (response.Raw, error) {
	start := time.Now()
	resp, err := c.Client.Do(req)
	metrics.SubmitDuration.WithLabelValues(adapter).Observe(time.Since(start).Seconds())
	if err != nil {
		return response.Raw{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return response.Raw{}, fmt.Errorf("read response: %w", err)
	}
	return response.Raw{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// fetchToken performs the CSRF handshake against url. A fresh token is
// requested for every submission.
func (c Conn) fetchToken(ctx context.Context, url string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TokenError{Kind: TokenNetwork, Err: err}
	}
	req.Header.Set(headerCSRF, "Fetch")

	resp, err := c.Client.Do(req)
	if err != nil {
		metrics.TokenFailures.WithLabelValues(string(TokenNetwork)).Inc()
		return "", &TokenError{Kind: TokenNetwork, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		kind := tokenKind(resp.StatusCode)
		metrics.TokenFailures.WithLabelValues(string(kind)).Inc()
		return "", &TokenError{Kind: kind, StatusCode: resp.StatusCode}
	}
	token := resp.Header.Get(headerCSRF)
	if token == "" || strings.EqualFold(token, "Required") {
		metrics.TokenFailures.WithLabelValues(string(TokenMissing)).Inc()
		return "", &TokenError{Kind: TokenMissing, StatusCode: resp.StatusCode}
	}
	return token, nil
}

// errorOutcome builds the Error outcome of a rejected document from the
// parsed response. The first error item supplies code and message.
func errorOutcome(doc types.Document, p response.Parsed) types.Outcome {
	out := types.Outcome{Status: types.StatusError, Records: doc.Records, Details: details(p.Items)}
	top := p.ErrorItems()
	if len(top) == 0 {
		top = p.Items
	}
	if len(top) > 0 {
		out.Code = top[0].Code
		out.Message = top[0].Message
	}
	if out.Message == "" {
		out.Message = "document rejected by backend"
	}
	return out
}

func details(items []response.Item) []types.Detail {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.Detail, len(items))
	for i, it := range items {
		out[i] = types.Detail{Code: it.Code, Message: it.Message, Severity: it.Severity, Target: it.Target}
	}
	return out
}

// unreadable reports whether a failed response carried nothing structured,
// which makes it a transport level failure rather than a business rejection.
func unreadable(raw response.Raw, p response.Parsed) bool {
	if raw.StatusCode < 400 || len(p.Items) != 1 {
		return false
	}
	code := p.Items[0].Code
	return code == response.CodeParseError || strings.HasPrefix(code, "HTTP_")
}
