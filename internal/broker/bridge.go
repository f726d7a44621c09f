// Package broker is the only code path that talks to the MT4 bridge: a local
// HTTP service that forwards requests into a Metatrader-4 terminal over
// ZeroMQ. It exposes a small operation set with broker-error retries, fixed
// lot sizing, and deterministic per-user magic-number attribution.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// defaultTimeout is deliberately short: a scalping close that takes longer
// than 5s is better retried than waited on.
const defaultTimeout = 5 * time.Second

// APIError represents a non-2xx HTTP response from the bridge.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge HTTP %d: %s", e.Status, e.Body)
}

// envelope is the bridge's uniform response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`

	// Some bridge builds emit orders at the top level instead of under data.
	Orders json.RawMessage `json:"orders,omitempty"`
}

// API is the raw HTTP layer for the bridge contract. It is account-scoped:
// one shared client authenticated with process-level Basic credentials, never
// per-user credentials.
type API struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewAPI creates a bridge API client. rps bounds outbound request rate;
// rps <= 0 disables limiting.
func NewAPI(baseURL, username, password string, rps float64, log zerolog.Logger) *API {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &API{
		client:   &http.Client{Timeout: defaultTimeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		limiter:  limiter,
		log:      log.With().Str("component", "bridge_api").Logger(),
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (a *API) WithHTTPClient(c *http.Client) *API {
	if c != nil {
		a.client = c
	}
	return a
}

// WithTimeout sets the HTTP request timeout.
func (a *API) WithTimeout(d time.Duration) *API {
	a.client.Timeout = d
	return a
}

// BaseURL returns the configured bridge endpoint.
func (a *API) BaseURL() string { return a.baseURL }

// do issues one bridge request and decodes the response envelope. A
// success=false envelope becomes a *Error with its MT4 code parsed out of
// the error string; non-2xx statuses become *APIError.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.username, a.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return fmt.Errorf("decoding response: %w", err)
	}

	if env.LatencyMs > 0 {
		a.log.Trace().Str("path", path).Float64("latency_ms", env.LatencyMs).Msg("bridge round trip")
	}

	if !env.Success {
		return newBridgeError(method+" "+path, env.Error)
	}
	if out == nil {
		return nil
	}

	// Tolerate the alternative top-level orders shape.
	payload := env.Data
	if len(payload) == 0 && len(env.Orders) > 0 {
		payload, _ = json.Marshal(struct {
			Orders json.RawMessage `json:"orders"`
		}{env.Orders})
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// ---- wire types ----

// wireTime accepts both RFC3339 and the MT4 terminal's "2006-01-02 15:04:05"
// timestamp format.
type wireTime struct {
	time.Time
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "0" {
		w.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			w.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

type wireOrder struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"stopLoss"`
	TakeProfit   float64   `json:"takeProfit"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	OpenTime     *wireTime `json:"openTime,omitempty"`
	CloseTime    *wireTime `json:"closeTime,omitempty"`
	Status       string    `json:"status"`
	MagicNumber  int       `json:"magicNumber"`
}

func (w *wireOrder) toOrder() *models.Order {
	o := &models.Order{
		Ticket:       w.Ticket,
		Symbol:       w.Symbol,
		Side:         models.Side(strings.ToLower(w.Side)),
		Volume:       w.Volume,
		OpenPrice:    w.OpenPrice,
		CurrentPrice: w.CurrentPrice,
		StopLoss:     w.StopLoss,
		TakeProfit:   w.TakeProfit,
		Profit:       w.Profit,
		Swap:         w.Swap,
		Commission:   w.Commission,
		MagicNumber:  w.MagicNumber,
		Status:       models.OrderStatus(strings.ToLower(w.Status)),
	}
	if w.OpenTime != nil {
		o.OpenTime = w.OpenTime.Time
	}
	if w.CloseTime != nil && !w.CloseTime.IsZero() {
		t := w.CloseTime.Time
		o.CloseTime = &t
	}
	if o.Status == "" {
		o.Status = models.OrderStatusOpen
	}
	// Some close responses set closeTime without a status field.
	if o.CloseTime != nil {
		o.Status = models.OrderStatusClosed
	}
	return o
}

type ordersPayload struct {
	Orders []wireOrder `json:"orders"`
}

// orderPayload tolerates single-order responses shaped either {order:{...}}
// or as a bare order object at the data level.
type orderPayload struct {
	wireOrder
	Order *wireOrder `json:"order,omitempty"`
}

func (p *orderPayload) resolve() *wireOrder {
	if p.Order != nil {
		return p.Order
	}
	return &p.wireOrder
}

type pingPayload struct {
	ZMQConnected bool `json:"zmq_connected"`
}

type accountPayload struct {
	AccountNumber int64   `json:"accountNumber"`
	Broker        string  `json:"broker"`
	Currency      string  `json:"currency"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"freeMargin"`
	Profit        float64 `json:"profit"`
}

type symbolsPayload struct {
	Symbols []models.SymbolInfo `json:"symbols"`
}

type pricePayload struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
}

type createOrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Volume      float64 `json:"volume"`
	StopLoss    float64 `json:"stopLoss"`
	TakeProfit  float64 `json:"takeProfit"`
	MagicNumber int     `json:"magicNumber"`
}

type modifyOrderRequest struct {
	StopLoss   *float64 `json:"stopLoss"`
	TakeProfit *float64 `json:"takeProfit"`
}

type closeOrderRequest struct {
	Ticket int64   `json:"ticket"`
	Volume float64 `json:"volume"`
}

type closeAllRequest struct {
	Symbol string `json:"symbol"`
}

// ---- raw endpoint operations ----

func (a *API) ping(ctx context.Context) (*pingPayload, error) {
	var out pingPayload
	if err := a.do(ctx, http.MethodGet, "/api/v1/ping", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) accountInfo(ctx context.Context) (*accountPayload, error) {
	var out accountPayload
	if err := a.do(ctx, http.MethodGet, "/api/v1/account/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) symbols(ctx context.Context) ([]models.SymbolInfo, error) {
	var out symbolsPayload
	if err := a.do(ctx, http.MethodGet, "/api/v1/symbols", nil, &out); err != nil {
		return nil, err
	}
	return out.Symbols, nil
}

func (a *API) price(ctx context.Context, symbol string) (*pricePayload, error) {
	var out pricePayload
	if err := a.do(ctx, http.MethodGet, "/api/v1/price/"+symbol, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) openOrders(ctx context.Context, symbol string) ([]wireOrder, error) {
	path := "/api/v1/orders/open"
	if symbol != "" {
		path += "?symbol=" + symbol
	}
	var out ordersPayload
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (a *API) order(ctx context.Context, ticket int64) (*wireOrder, error) {
	var out orderPayload
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", ticket), nil, &out); err != nil {
		return nil, err
	}
	return out.resolve(), nil
}

func (a *API) createOrder(ctx context.Context, req createOrderRequest) (*wireOrder, error) {
	var out orderPayload
	if err := a.do(ctx, http.MethodPost, "/api/v1/orders", req, &out); err != nil {
		return nil, err
	}
	return out.resolve(), nil
}

func (a *API) modifyOrder(ctx context.Context, ticket int64, req modifyOrderRequest) (*wireOrder, error) {
	var out orderPayload
	if err := a.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d", ticket), req, &out); err != nil {
		return nil, err
	}
	return out.resolve(), nil
}

func (a *API) closeOrder(ctx context.Context, ticket int64, volume float64) (*wireOrder, error) {
	var out orderPayload
	if err := a.do(ctx, http.MethodPost, "/api/v1/orders/close", closeOrderRequest{Ticket: ticket, Volume: volume}, &out); err != nil {
		return nil, err
	}
	return out.resolve(), nil
}

func (a *API) closeAll(ctx context.Context, symbol string) (*models.CloseAllResult, error) {
	var out models.CloseAllResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/orders/close-all", closeAllRequest{Symbol: symbol}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
