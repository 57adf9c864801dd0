// Package client is a thin HTTP client for the cdpd API.
package client

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

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"aerocdp/services/cdp/server"
)

// APIError is a non-2xx response from cdpd.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cdpd: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client issues API calls against a cdpd base URL.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New parses baseURL. token is sent as a bearer token when non-empty.
func New(baseURL, token string) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", parsed.Scheme)
	}
	return &Client{
		base:  parsed,
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	target := *c.base
	target.Path += path
	target.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if method != http.MethodGet {
			req.Header.Set("Idempotency-Key", uuid.NewString())
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func amount(v uint64) string { return strconv.FormatUint(v, 10) }

func (c *Client) Params(ctx context.Context) (*server.ParamsView, error) {
	var out server.ParamsView
	if err := c.do(ctx, http.MethodGet, "/v1/params", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Totals(ctx context.Context) (*server.TotalsView, error) {
	var out server.TotalsView
	if err := c.do(ctx, http.MethodGet, "/v1/totals", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Trove(ctx context.Context, owner string) (*server.TroveView, error) {
	var out server.TroveView
	if err := c.do(ctx, http.MethodGet, "/v1/troves/"+url.PathEscape(owner), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SortedTroves(ctx context.Context, denom string, limit int) ([]server.TroveView, error) {
	var out []server.TroveView
	query := url.Values{"denom": {denom}, "limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/v1/troves", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stake(ctx context.Context, owner string) (*server.StakeView, error) {
	var out server.StakeView
	if err := c.do(ctx, http.MethodGet, "/v1/stability/"+url.PathEscape(owner), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OpenTrove(ctx context.Context, owner, denom string, collateral, loan uint64) (*server.TroveView, error) {
	var out server.TroveView
	body := map[string]string{"owner": owner, "denom": denom, "collateral": amount(collateral), "loan": amount(loan)}
	if err := c.do(ctx, http.MethodPost, "/v1/troves/open", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Adjust calls one of the trove adjustment routes: collateral/add,
// collateral/remove, borrow or repay.
func (c *Client) Adjust(ctx context.Context, action, owner, denom string, value uint64) (*server.TroveView, error) {
	var out server.TroveView
	body := map[string]string{"owner": owner, "amount": amount(value)}
	if denom != "" {
		body["denom"] = denom
	}
	if err := c.do(ctx, http.MethodPost, "/v1/troves/"+action, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseTrove(ctx context.Context, owner string) (*server.TroveView, error) {
	var out server.TroveView
	if err := c.do(ctx, http.MethodPost, "/v1/troves/close", nil, map[string]string{"owner": owner}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StakeAction calls stability/stake or stability/unstake.
func (c *Client) StakeAction(ctx context.Context, action, owner string, value uint64) (*server.DepositView, error) {
	var out server.DepositView
	body := map[string]string{"owner": owner, "amount": amount(value)}
	if err := c.do(ctx, http.MethodPost, "/v1/stability/"+action, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WithdrawGains(ctx context.Context, owner, denom string) (uint64, error) {
	var out struct {
		Amount uint64 `json:"amount,string"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/stability/withdraw", nil, map[string]string{"owner": owner, "denom": denom}, &out)
	return out.Amount, err
}

func (c *Client) LiquidateSorted(ctx context.Context, denom string) (*server.LiquidationView, error) {
	var out server.LiquidationView
	if err := c.do(ctx, http.MethodPost, "/v1/liquidations/sorted", nil, map[string]string{"denom": denom}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Redeem(ctx context.Context, owner, denom string, value uint64) (*server.RedemptionView, error) {
	var out server.RedemptionView
	body := map[string]string{"owner": owner, "denom": denom, "amount": amount(value)}
	if err := c.do(ctx, http.MethodPost, "/v1/redemptions", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Credit(ctx context.Context, denom, to string, value uint64) error {
	body := map[string]string{"denom": denom, "to": to, "amount": amount(value)}
	return c.do(ctx, http.MethodPost, "/v1/admin/credit", nil, body, nil)
}

func (c *Client) SetPrice(ctx context.Context, denom string, price uint64, decimal uint8, timestamp int64) (*server.PriceView, error) {
	var out server.PriceView
	body := map[string]interface{}{"denom": denom, "price": amount(price), "decimal": decimal, "timestamp": timestamp}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/prices", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetPaused(ctx context.Context, name string, paused bool) ([]string, error) {
	var out struct {
		Paused []string `json:"paused"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/pauses", nil, map[string]interface{}{"name": name, "paused": paused}, &out)
	return out.Paused, err
}
