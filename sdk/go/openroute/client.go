// Package openroute is the Go client of the openrouted REST API.
package openroute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/route"
)

// DefaultHTTPTimeout is the timeout of clients created without a custom
// http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Record is the execution ledger entry of a route.
type Record = ledger.Record

// Stats aggregates records by status.
type Stats = ledger.Stats

// Client wraps the HTTP interactions with the openrouted REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Submission is the payload required to execute a route.
type Submission struct {
	Route   route.Route `json:"route"`
	Account string      `json:"account"`
	// Interactive=false lets the route pause at the first prompt.
	Interactive *bool `json:"interactive,omitempty"`
}

// ListQuery filters ListRoutes and Stats.
type ListQuery struct {
	Limit    int
	Offset   int
	Statuses []route.Status
	Account  string
	Query    string
	Since    time.Time
	Until    time.Time
	Ascend   bool
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		parts := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			parts[i] = string(s)
		}
		v.Set("status", strings.Join(parts, ","))
	}
	if q.Account != "" {
		v.Set("account", q.Account)
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if !q.Since.IsZero() {
		v.Set("since", strconv.FormatInt(q.Since.Unix(), 10))
	}
	if !q.Until.IsZero() {
		v.Set("until", strconv.FormatInt(q.Until.Unix(), 10))
	}
	if q.Ascend {
		v.Set("order", "asc")
	}
	return v
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openroute api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openroute api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the openrouted API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets a bearer token sent with every request, for
// deployments behind an authenticating proxy.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitRoute queues a route for execution.
func (c *Client) SubmitRoute(ctx context.Context, submission Submission) (Record, error) {
	var rec Record
	if err := c.send(ctx, http.MethodPost, "/api/v1/routes", nil, submission, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRoute fetches the ledger entry of a route.
func (c *Client) GetRoute(ctx context.Context, id string) (Record, error) {
	var rec Record
	if err := c.send(ctx, http.MethodGet, "/api/v1/routes/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListRoutes returns the routes matching q, most recently updated first
// unless q.Ascend is set.
func (c *Client) ListRoutes(ctx context.Context, q ListQuery) ([]Record, error) {
	var out []Record
	if err := c.send(ctx, http.MethodGet, "/api/v1/routes", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats aggregates the routes matching q. Limit and Offset are ignored.
func (c *Client) Stats(ctx context.Context, q ListQuery) (Stats, error) {
	var out Stats
	if err := c.send(ctx, http.MethodGet, "/api/v1/routes/stats", q.values(), nil, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Balances reads the balances of account for tokens in one batched call.
// The result follows the order of tokens.
func (c *Client) Balances(ctx context.Context, account string, tokens []route.Token) ([]route.TokenAmount, error) {
	payload := struct {
		Account string        `json:"account"`
		Tokens  []route.Token `json:"tokens"`
	}{Account: account, Tokens: tokens}
	var out struct {
		Balances []route.TokenAmount `json:"balances"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/balances", nil, payload, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// Resume re-allows interaction and re-queues a paused or failed route.
func (c *Client) Resume(ctx context.Context, id string) (Record, error) {
	var rec Record
	if err := c.send(ctx, http.MethodPost, "/api/v1/routes/"+url.PathEscape(id)+"/resume", nil, nil, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SetInteraction toggles whether the route may prompt the account holder.
// Disallowing pauses a running route at its next suspension point.
func (c *Client) SetInteraction(ctx context.Context, id string, allowed bool) error {
	body := map[string]bool{"allowed": allowed}
	return c.send(ctx, http.MethodPost, "/api/v1/routes/"+url.PathEscape(id)+"/interaction", nil, body, nil)
}

// Watch polls the route every interval and calls fn with each changed
// record until the route settles, pauses for the account holder or ctx ends.
func (c *Client) Watch(ctx context.Context, id string, interval time.Duration, fn func(Record)) (Record, error) {
	if interval <= 0 {
		interval = time.Second
	}
	var last []byte
	for {
		rec, err := c.GetRoute(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if fn != nil {
			if snapshot, err := json.Marshal(rec); err == nil && !bytes.Equal(snapshot, last) {
				last = snapshot
				fn(rec)
			}
		}
		if rec.Status.IsTerminal() || waiting(rec.Status) {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func waiting(s route.Status) bool {
	return s == route.StatusActionRequired || s == route.StatusChainSwitchRequired || s == route.StatusMultisigPending
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
