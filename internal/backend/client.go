// Package backend is the HTTP client of the quoting and bridge status
// service. Non-2xx responses are classified into coded errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 15 * time.Second

// SlippageHTMLMessage is shown when the backend rejects a stale quote.
const SlippageHTMLMessage = "The slippage is larger than the defined threshold. Please request a new route to get a fresh quote."

// Config describes the backend endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Integrator string
	Timeout    time.Duration
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	integrator string
	httpClient *http.Client
}

// NewClient validates cfg and returns a client. A nil httpClient gets a
// default one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend base url is empty")
	}
	parsed, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: parsed, apiKey: cfg.APIKey, integrator: cfg.Integrator, httpClient: httpClient}, nil
}

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode      int
	URL             string
	ResponseCode    int    `json:"code"`
	ResponseMessage string `json:"message"`
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("request failed with status code %d", e.StatusCode)
	if text := http.StatusText(e.StatusCode); text != "" {
		msg = fmt.Sprintf("request failed with status code %d %s", e.StatusCode, text)
	}
	if e.ResponseMessage != "" {
		msg += ": " + e.ResponseMessage
	}
	return msg
}

// classify maps an HTTP status onto an error code and optional html message.
func classify(status int) (xerrors.Code, string) {
	switch status {
	case http.StatusBadRequest:
		return xerrors.CodeValidation, ""
	case http.StatusNotFound:
		return xerrors.CodeNotFound, ""
	case http.StatusConflict:
		return xerrors.CodeSlippage, SlippageHTMLMessage
	default:
		return xerrors.CodeInternal, ""
	}
}

// GetStepTransaction asks the backend to populate the step's transaction
// request. The returned step may carry a refreshed estimate.
func (c *Client) GetStepTransaction(ctx context.Context, step route.Step) (route.Step, error) {
	payload := step.Clone()
	payload.Execution = nil
	payload.TransactionRequest = nil

	var out route.Step
	if err := c.do(ctx, http.MethodPost, "/advanced/stepTransaction", nil, payload, &out); err != nil {
		return route.Step{}, err
	}
	if out.ID == "" {
		out.ID = step.ID
	}
	return out, nil
}

// StatusRequest identifies a bridge transfer by its source transaction.
type StatusRequest struct {
	TxHash    string
	Bridge    string
	FromChain uint64
	ToChain   uint64
}

// Transfer status values reported by the backend.
const (
	StatusNotFound  = "NOT_FOUND"
	StatusInvalid   = "INVALID"
	StatusPending   = "PENDING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// TransferInfo describes one side of a bridge transfer.
type TransferInfo struct {
	TxHash       string       `json:"txHash,omitempty"`
	TxLink       string       `json:"txLink,omitempty"`
	Amount       string       `json:"amount,omitempty"`
	Token        *route.Token `json:"token,omitempty"`
	ChainID      uint64       `json:"chainId,omitempty"`
	GasPrice     string       `json:"gasPrice,omitempty"`
	GasUsed      string       `json:"gasUsed,omitempty"`
	GasToken     *route.Token `json:"gasToken,omitempty"`
	GasAmount    string       `json:"gasAmount,omitempty"`
	GasAmountUSD string       `json:"gasAmountUSD,omitempty"`
}

// StatusResponse is the backend view of a bridge transfer.
type StatusResponse struct {
	Status           string        `json:"status"`
	Substatus        string        `json:"substatus,omitempty"`
	SubstatusMessage string        `json:"substatusMessage,omitempty"`
	Tool             string        `json:"tool,omitempty"`
	Sending          *TransferInfo `json:"sending,omitempty"`
	Receiving        *TransferInfo `json:"receiving,omitempty"`
}

// GetStatus fetches the status of a bridge transfer.
func (c *Client) GetStatus(ctx context.Context, req StatusRequest) (StatusResponse, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return StatusResponse{}, xerrors.New(xerrors.CodeValidation, "txHash is required")
	}
	query := url.Values{}
	query.Set("txHash", req.TxHash)
	if req.Bridge != "" {
		query.Set("bridge", req.Bridge)
	}
	if req.FromChain != 0 {
		query.Set("fromChain", strconv.FormatUint(req.FromChain, 10))
	}
	if req.ToChain != 0 {
		query.Set("toChain", strconv.FormatUint(req.ToChain, 10))
	}

	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", query, nil, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + endpoint
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInternal, err, "create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-lifi-api-key", c.apiKey)
	}
	if c.integrator != "" {
		req.Header.Set("x-lifi-integrator", c.integrator)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "backend request aborted")
		}
		return xerrors.Wrap(xerrors.CodeInternal, err, "perform request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInternal, err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, URL: u.String()}
		_ = json.Unmarshal(data, httpErr)
		code, html := classify(resp.StatusCode)
		opts := []xerrors.Option{xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode))}
		if html != "" {
			opts = append(opts, xerrors.WithDetail(html))
		}
		return xerrors.Wrap(code, httpErr, httpErr.Error(), opts...)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInternal, err, "decode response")
	}
	return nil
}
