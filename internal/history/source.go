package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/record"
)

// Fetcher returns historical records for an owner. Results are best-effort
// and may fail independently of the account client.
type Fetcher interface {
	FetchHistory(ctx context.Context, owner string) ([]record.Historical, error)
}

// DefaultRatePerSecond matches the free-tier explorer API limit.
const DefaultRatePerSecond = 5

// Source queries an Etherscan-compatible explorer for internal transactions.
//
// Thread-safety: safe for concurrent use. Requests share one rate limiter.
type Source struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) { s.client = c }
}

// WithRate sets the request rate. A non-positive rate disables pacing.
func WithRate(perSecond float64) SourceOption {
	return func(s *Source) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewSource creates a Source for the explorer API at baseURL.
func NewSource(baseURL, apiKey string, opts ...SourceOption) *Source {
	s := &Source{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(DefaultRatePerSecond), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type internalTx struct {
	Hash      string `json:"hash"`
	TimeStamp string `json:"timeStamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	IsError   string `json:"isError"`
}

// FetchHistory returns the owner's internal transactions, newest first as
// reported by the explorer. An explorer "no results" reply is an empty list.
func (s *Source) FetchHistory(ctx context.Context, owner string) ([]record.Historical, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlistinternal")
	q.Set("address", owner)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "desc")
	q.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, account.NewError(account.KindTransient, "fetch_history", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, account.NewError(account.KindRateLimited, "fetch_history", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, account.NewError(account.KindTransient, "fetch_history", fmt.Errorf("status %d", resp.StatusCode))
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fetch history: decode response: %w", err)
	}
	if body.Status != "1" {
		// Status "0" covers both "No transactions found" and API errors such
		// as an invalid key, where result is a message string.
		if strings.Contains(strings.ToLower(body.Message), "no transactions") {
			return []record.Historical{}, nil
		}
		var reason string
		_ = json.Unmarshal(body.Result, &reason)
		if strings.Contains(strings.ToLower(reason), "rate limit") {
			return nil, account.NewError(account.KindRateLimited, "fetch_history", fmt.Errorf("%s", reason))
		}
		return nil, fmt.Errorf("fetch history: explorer error: %s %s", body.Message, reason)
	}

	var txs []internalTx
	if err := json.Unmarshal(body.Result, &txs); err != nil {
		return nil, fmt.Errorf("fetch history: decode result: %w", err)
	}
	out := make([]record.Historical, 0, len(txs))
	for _, tx := range txs {
		h, err := tx.historical(owner)
		if err != nil {
			return nil, fmt.Errorf("fetch history: tx %s: %w", tx.Hash, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (tx internalTx) historical(owner string) (record.Historical, error) {
	secs, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
	if err != nil {
		return record.Historical{}, fmt.Errorf("timestamp %q: %w", tx.TimeStamp, err)
	}
	value, err := FormatEther(tx.Value)
	if err != nil {
		return record.Historical{}, err
	}
	status := record.StatusFailed
	if tx.IsError == "0" {
		status = record.StatusCompleted
	}
	target := tx.To
	if !record.SameAddress(tx.From, owner) {
		target = tx.From
	}
	return record.Historical{
		ID:        tx.Hash,
		Target:    target,
		Payload:   value,
		Timestamp: time.Unix(secs, 0).UTC(),
		Status:    status,
	}, nil
}

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatEther renders a wei amount as a decimal ether string with at least
// one fractional digit ("1000000000000000000" -> "1.0").
func FormatEther(wei string) (string, error) {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return "", fmt.Errorf("invalid wei amount %q", wei)
	}
	neg := v.Sign() < 0
	v.Abs(v)

	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	fs := frac.String()
	fs = strings.Repeat("0", 18-len(fs)) + fs
	fs = strings.TrimRight(fs, "0")
	if fs == "" {
		fs = "0"
	}
	s := whole.String() + "." + fs
	if neg {
		s = "-" + s
	}
	return s, nil
}
