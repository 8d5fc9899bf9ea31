// Package kiteclient implements market data and order execution against a
// Kite-style broker gateway (REST for history and orders, WebSocket for the
// live bar stream).
package kiteclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

const (
	defaultBaseURL     = "https://api.kite.trade"
	defaultWSBaseURL   = "wss://ws.kite.trade"
	defaultHTTPTimeout = 10 * time.Second
	apiVersion         = "3"
)

// Config holds the gateway credentials and connection tuning.
type Config struct {
	APIKey      string
	AccessToken string
	BaseURL     string // defaults to the production REST endpoint
	WSBaseURL   string // defaults to the production stream endpoint
	Logger      ports.Logger

	HTTPTimeout          time.Duration
	ReconnectDelay       time.Duration // base delay, grows exponentially
	MaxReconnectAttempts int
}

// Client implements ports.MarketDataProvider and ports.ExecutionClient.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     ports.Logger
}

// New creates a gateway client. Missing credentials are tolerated so public
// history endpoints still work; order placement will fail with an
// authentication error.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for kite client")
	}
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or AccessToken is empty, order placement will be rejected")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     cfg.Logger,
	}, nil
}

// handleError translates gateway failures into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, status int, operation string) error {
	if err == nil && status == 0 {
		return nil
	}
	fields := map[string]interface{}{"operation": operation}
	if err != nil {
		fields["originalError"] = err.Error()
	}
	if status != 0 {
		fields["httpStatus"] = status
	}

	var mappedErr error
	switch {
	case status == http.StatusTooManyRequests:
		mappedErr = ports.ErrRateLimited
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		mappedErr = ports.ErrAuthenticationFailed
	case status == http.StatusNotFound:
		mappedErr = ports.ErrNotFound
	case status >= 400 && status < 500:
		mappedErr = ports.ErrInvalidRequest
	case status >= 500:
		mappedErr = ports.ErrConnectionFailed
	case errors.Is(err, context.DeadlineExceeded):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	case err != nil && (strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "use of closed network connection")):
		mappedErr = ports.ErrConnectionFailed
	default:
		mappedErr = ports.ErrUnknown
	}

	finalErr := fmt.Errorf("%s failed: %w: %v", operation, mappedErr, err)
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doRequest performs one authenticated REST call and decodes the standard
// response envelope.
func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, op string) (json.RawMessage, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, c.handleError(ctx, err, 0, op)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.AccessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.handleError(ctx, err, 0, op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.handleError(ctx, err, resp.StatusCode, op)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("failed to decode response: %w", err), resp.StatusCode, op)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return nil, c.handleError(ctx, fmt.Errorf("gateway returned %q: %s", env.Status, env.Message), resp.StatusCode, op)
	}
	return env.Data, nil
}

// --- Market data ---

type candlesData struct {
	Candles [][]interface{} `json:"candles"`
}

// parseCandle decodes one [timestamp, o, h, l, c, v] row.
func parseCandle(row []interface{}, symbol, interval string) (*domain.Bar, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("candle row has %d fields, want 6", len(row))
	}
	tsStr, ok := row[0].(string)
	if !ok {
		return nil, fmt.Errorf("candle timestamp is not a string")
	}
	ts, err := time.Parse("2006-01-02T15:04:05-0700", tsStr)
	if err != nil {
		// Some gateway versions use RFC3339.
		ts, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("could not parse candle timestamp %q: %w", tsStr, err)
		}
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		f, ok := row[i+1].(float64)
		if !ok {
			return nil, fmt.Errorf("candle field %d is not numeric", i+1)
		}
		vals[i] = f
	}
	return &domain.Bar{
		Timestamp: ts,
		Symbol:    symbol,
		Interval:  interval,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// intervalDuration maps a gateway interval name to its bar length.
func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "minute":
		return time.Minute, nil
	case "3minute":
		return 3 * time.Minute, nil
	case "5minute":
		return 5 * time.Minute, nil
	case "10minute":
		return 10 * time.Minute, nil
	case "15minute":
		return 15 * time.Minute, nil
	case "30minute":
		return 30 * time.Minute, nil
	case "60minute":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
}

// GetBars retrieves the most recent count bars for the symbol.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, count int) ([]*domain.Bar, error) {
	op := "GetBars"
	d, err := intervalDuration(interval)
	if err != nil {
		return nil, c.handleError(ctx, err, 0, op)
	}
	end := time.Now()
	// Over-fetch by calendar time to survive overnight and weekend gaps,
	// then trim to the requested count.
	start := end.Add(-time.Duration(count) * d * 5)
	bars, err := c.GetBarsRange(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// GetBarsRange retrieves bars between start and end, ordered ascending.
func (c *Client) GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Bar, error) {
	op := "GetBarsRange"
	path := fmt.Sprintf("/instruments/historical/%s/%s?from=%s&to=%s",
		url.PathEscape(symbol), url.PathEscape(interval),
		url.QueryEscape(start.Format("2006-01-02 15:04:05")),
		url.QueryEscape(end.Format("2006-01-02 15:04:05")))

	data, err := c.doRequest(ctx, http.MethodGet, path, nil, op)
	if err != nil {
		return nil, err
	}
	var cd candlesData
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("failed to decode candles: %w", err), 0, op)
	}

	bars := make([]*domain.Bar, 0, len(cd.Candles))
	for _, row := range cd.Candles {
		bar, err := parseCandle(row, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, err, 0, op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// SessionHighLowClose returns the prior completed session's high, low and
// close, derived from daily candles.
func (c *Client) SessionHighLowClose(ctx context.Context, symbol string) (float64, float64, float64, error) {
	op := "SessionHighLowClose"
	end := time.Now()
	bars, err := c.GetBarsRange(ctx, symbol, "day", end.AddDate(0, 0, -10), end)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(bars) == 0 {
		return 0, 0, 0, c.handleError(ctx, fmt.Errorf("%w: no daily bars for %s", ports.ErrDataUnavailable, symbol), 0, op)
	}
	last := bars[len(bars)-1]
	// The latest daily candle may be today's still-forming session.
	if sameDay(last.Timestamp, end) {
		if len(bars) < 2 {
			return 0, 0, 0, c.handleError(ctx, fmt.Errorf("%w: no completed session for %s", ports.ErrDataUnavailable, symbol), 0, op)
		}
		last = bars[len(bars)-2]
	}
	return last.High, last.Low, last.Close, nil
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// --- Execution ---

type orderData struct {
	OrderID       string  `json:"order_id"`
	AveragePrice  float64 `json:"average_price"`
	FilledQty     float64 `json:"filled_quantity"`
	Status        string  `json:"status"`
	OrderTimeUnix int64   `json:"order_timestamp"`
}

// PlaceOrder submits a regular order and returns the gateway's
// acknowledgement. The gateway may ack before the fill; AvgPrice is zero in
// that case and callers fall back to their reference price.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	form := url.Values{}
	form.Set("tradingsymbol", req.Symbol)
	form.Set("transaction_type", string(req.Side))
	form.Set("order_type", string(req.Kind))
	form.Set("quantity", fmt.Sprintf("%.0f", req.Quantity))
	form.Set("product", "NRML")
	form.Set("tag", req.ClientOrderID)

	data, err := c.doRequest(ctx, http.MethodPost, "/orders/regular", form, op)
	if err != nil {
		if errors.Is(err, ports.ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %w", ports.ErrOrderRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ports.ErrOrderPlacementFailed, err)
	}
	var od orderData
	if err := json.Unmarshal(data, &od); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("failed to decode order response: %w", err), 0, op)
	}

	resp := &ports.OrderResponse{
		OrderID:       od.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		AvgPrice:      od.AveragePrice,
		ExecutedQty:   od.FilledQty,
		Status:        od.Status,
		Timestamp:     time.Unix(od.OrderTimeUnix, 0),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"quantity": req.Quantity,
		"orderID":  resp.OrderID,
		"avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// --- Live stream ---

type streamMessage struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Time     int64   `json:"time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Final    bool    `json:"final"`
}

// StreamBars subscribes to completed bars for the given symbols. The handler
// runs on the read goroutine and must return quickly. The returned doneCh
// closes when the stream gives up (max reconnect attempts) or the context
// ends; stopCh shuts the stream down.
func (c *Client) StreamBars(ctx context.Context, symbols []string, interval string, handler func(*domain.Bar), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamBars"
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%w: no symbols to stream", ports.ErrInvalidRequest)
	}

	wsCtx, cancel := context.WithCancel(ctx)
	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		defer close(doneCh)
		defer cancel()

		attempt := 0
		for {
			if wsCtx.Err() != nil {
				return
			}
			if err := c.runStream(wsCtx, symbols, interval, handler); err != nil {
				if wsCtx.Err() != nil {
					return
				}
				attempt++
				if errHandler != nil {
					errHandler(err)
				}
				if attempt >= c.cfg.MaxReconnectAttempts {
					c.logger.Error(wsCtx, err, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{
						"maxAttempts": c.cfg.MaxReconnectAttempts,
					})
					return
				}
				delay := c.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
				c.logger.Warn(wsCtx, op+": stream dropped, reconnecting", map[string]interface{}{
					"attempt": attempt,
					"delay":   delay.String(),
				})
				select {
				case <-time.After(delay):
				case <-wsCtx.Done():
					return
				}
				continue
			}
			// Clean shutdown.
			return
		}
	}()

	return doneCh, stopCh, nil
}

// runStream owns one websocket connection: dial, subscribe, read until the
// connection drops or the context ends.
func (c *Client) runStream(ctx context.Context, symbols []string, interval string, handler func(*domain.Bar)) error {
	op := "runStream"
	endpoint := fmt.Sprintf("%s?api_key=%s&access_token=%s",
		c.cfg.WSBaseURL, url.QueryEscape(c.cfg.APIKey), url.QueryEscape(c.cfg.AccessToken))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: dial failed: %v", ports.ErrConnectionFailed, err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"a":        "subscribe",
		"symbols":  symbols,
		"interval": interval,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("%w: subscribe failed: %v", ports.ErrConnectionFailed, err)
	}
	c.logger.Info(ctx, op+": stream connected", map[string]interface{}{"symbols": symbols, "interval": interval})

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read failed: %v", ports.ErrConnectionFailed, err)
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn(ctx, op+": dropping malformed stream message", map[string]interface{}{"error": err.Error()})
			continue
		}
		if msg.Type != "bar" || !msg.Final {
			continue
		}
		handler(&domain.Bar{
			Timestamp: time.Unix(msg.Time, 0),
			Symbol:    msg.Symbol,
			Interval:  msg.Interval,
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
		})
	}
}
