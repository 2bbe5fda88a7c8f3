// Package safe lets routes execute from a Safe multisig. Transactions are
// proposed to the Safe transaction service of the chain and the remaining
// owners confirm and execute them out of band; Registry reports how a
// proposal ended.
package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultTimeout bounds a single transaction service call.
const DefaultTimeout = 15 * time.Second

// Service is the client of one chain's Safe transaction service.
type Service struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewService validates baseURL. A nil httpClient gets a default one.
func NewService(baseURL string, httpClient *http.Client) (*Service, error) {
	raw := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("safe transaction service url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid safe transaction service url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Service{baseURL: parsed, httpClient: httpClient}, nil
}

// Info is the on-chain state of a Safe.
type Info struct {
	Address   string `json:"address"`
	Nonce     uint64 `json:"nonce"`
	Threshold int    `json:"threshold"`
}

// Confirmation is one owner signature of a proposal.
type Confirmation struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature,omitempty"`
}

// Transaction is a proposal as reported by the service.
type Transaction struct {
	Safe                  string         `json:"safe"`
	SafeTxHash            string         `json:"safeTxHash"`
	Nonce                 uint64         `json:"nonce"`
	IsExecuted            bool           `json:"isExecuted"`
	IsSuccessful          *bool          `json:"isSuccessful"`
	TransactionHash       string         `json:"transactionHash"`
	ConfirmationsRequired int            `json:"confirmationsRequired"`
	Confirmations         []Confirmation `json:"confirmations"`
}

// Proposal is the payload of a new multisig transaction.
type Proposal struct {
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data,omitempty"`
	Operation               int    `json:"operation"`
	SafeTxGas               string `json:"safeTxGas"`
	BaseGas                 string `json:"baseGas"`
	GasPrice                string `json:"gasPrice"`
	GasToken                string `json:"gasToken"`
	RefundReceiver          string `json:"refundReceiver"`
	Nonce                   uint64 `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
	Origin                  string `json:"origin,omitempty"`
}

// Info returns the current nonce and threshold of safe.
func (s *Service) Info(ctx context.Context, safe string) (Info, error) {
	var out Info
	err := s.do(ctx, http.MethodGet, "/api/v1/safes/"+checksum(safe)+"/", nil, nil, &out)
	return out, err
}

// NextNonce returns the nonce a new proposal should use: the on-chain nonce
// or one past the highest queued proposal, whichever is larger.
func (s *Service) NextNonce(ctx context.Context, safe string) (uint64, error) {
	info, err := s.Info(ctx, safe)
	if err != nil {
		return 0, err
	}
	query := url.Values{}
	query.Set("nonce__gte", strconv.FormatUint(info.Nonce, 10))
	query.Set("ordering", "-nonce")
	query.Set("limit", "1")
	var page struct {
		Results []Transaction `json:"results"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/v1/safes/"+checksum(safe)+"/multisig-transactions/", query, nil, &page); err != nil {
		return 0, err
	}
	next := info.Nonce
	if len(page.Results) > 0 && page.Results[0].Nonce >= next {
		next = page.Results[0].Nonce + 1
	}
	return next, nil
}

// Propose submits a signed proposal.
func (s *Service) Propose(ctx context.Context, safe string, p Proposal) error {
	return s.do(ctx, http.MethodPost, "/api/v1/safes/"+checksum(safe)+"/multisig-transactions/", nil, p, nil)
}

// Transaction looks a proposal up by its safe transaction hash.
func (s *Service) Transaction(ctx context.Context, safeTxHash string) (Transaction, error) {
	var out Transaction
	err := s.do(ctx, http.MethodGet, "/api/v1/multisig-transactions/"+strings.TrimSpace(safeTxHash)+"/", nil, nil, &out)
	return out, err
}

func (s *Service) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + endpoint
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "encode safe request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInternal, err, "create safe request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "safe request aborted")
		}
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "safe transaction service unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "read safe response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := xerrors.CodeRPCFailure
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = xerrors.CodeValidation
		case http.StatusNotFound:
			code = xerrors.CodeNotFound
		}
		return xerrors.New(code, fmt.Sprintf("safe transaction service returned %d", resp.StatusCode),
			xerrors.WithDetail(strings.TrimSpace(string(data))),
			xerrors.WithMetadata("url", u.String()))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "decode safe response")
	}
	return nil
}

func checksum(address string) string {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}
