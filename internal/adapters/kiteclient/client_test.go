package kiteclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		APIKey:      "key",
		AccessToken: "token",
		BaseURL:     srv.URL,
		Logger:      nopLogger{},
	})
	require.NoError(t, err)
	return c, srv
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{APIKey: "k", AccessToken: "t"})
	assert.Error(t, err)
}

func TestGetBarsRangeParsesCandles(t *testing.T) {
	var gotAuth, gotVersion string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Kite-Version")
		fmt.Fprint(w, `{"status":"success","data":{"candles":[
			["2025-06-04T09:15:00+0530",100.0,101.5,99.5,101.0,1200],
			["2025-06-04T09:45:00+0530",101.0,102.0,100.5,101.8,900]
		]}}`)
	}))

	bars, err := c.GetBarsRange(context.Background(), "NIFTY25JUNFUT", "30minute",
		time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC), time.Date(2025, 6, 4, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "token key:token", gotAuth)
	assert.Equal(t, "3", gotVersion)

	assert.Equal(t, "NIFTY25JUNFUT", bars[0].Symbol)
	assert.Equal(t, "30minute", bars[0].Interval)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 101.5, bars[0].High)
	assert.Equal(t, 99.5, bars[0].Low)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 1200.0, bars[0].Volume)
	assert.True(t, bars[1].Timestamp.After(bars[0].Timestamp))
}

func TestGetBarsRangeMalformedCandle(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"candles":[["2025-06-04T09:15:00+0530",100.0]]}}`)
	}))

	_, err := c.GetBarsRange(context.Background(), "SYM", "30minute", time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestGetBarsRangeAuthFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"error","message":"Invalid access token"}`)
	}))

	_, err := c.GetBarsRange(context.Background(), "SYM", "30minute", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrAuthenticationFailed))
}

func TestGetBarsRangeRateLimited(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"status":"error","message":"Too many requests"}`)
	}))

	_, err := c.GetBarsRange(context.Background(), "SYM", "30minute", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
}

func TestPlaceOrderSuccess(t *testing.T) {
	var gotContentType, gotSymbol, gotSide, gotQty string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders/regular", r.URL.Path)
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotSymbol = r.PostForm.Get("tradingsymbol")
		gotSide = r.PostForm.Get("transaction_type")
		gotQty = r.PostForm.Get("quantity")
		fmt.Fprint(w, `{"status":"success","data":{"order_id":"250604000123","average_price":25105.5,"filled_quantity":150,"status":"COMPLETE","order_timestamp":1749008100}}`)
	}))

	resp, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "NIFTY25JUNFUT",
		Side:          domain.Buy,
		Quantity:      150,
		Kind:          domain.OrderKindMarket,
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "NIFTY25JUNFUT", gotSymbol)
	assert.Equal(t, string(domain.Buy), gotSide)
	assert.Equal(t, "150", gotQty)

	assert.Equal(t, "250604000123", resp.OrderID)
	assert.Equal(t, "cid-1", resp.ClientOrderID)
	assert.Equal(t, 25105.5, resp.AvgPrice)
	assert.Equal(t, 150.0, resp.ExecutedQty)
}

func TestPlaceOrderRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","message":"Quantity should be a multiple of lot size"}`)
	}))

	_, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		ClientOrderID: "cid-2",
		Symbol:        "NIFTY25JUNFUT",
		Side:          domain.Sell,
		Quantity:      7,
		Kind:          domain.OrderKindMarket,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrOrderRejected))
}

func TestSessionHighLowCloseSkipsFormingSession(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"success","data":{"candles":[
			["2025-06-03T00:00:00+0530",24900,25050,24850,25000,500000],
			["%sT00:00:00Z",25000,25200,24950,25150,320000]
		]}}`, today)
	}))

	high, low, cl, err := c.SessionHighLowClose(context.Background(), "NIFTY25JUNFUT")
	require.NoError(t, err)
	assert.Equal(t, 25050.0, high)
	assert.Equal(t, 24850.0, low)
	assert.Equal(t, 25000.0, cl)
}

func TestSessionHighLowCloseNoData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"candles":[]}}`)
	}))

	_, _, _, err := c.SessionHighLowClose(context.Background(), "NIFTY25JUNFUT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrDataUnavailable))
}

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		interval string
		want     time.Duration
		wantErr  bool
	}{
		{"5minute", 5 * time.Minute, false},
		{"30minute", 30 * time.Minute, false},
		{"day", 24 * time.Hour, false},
		{"fortnight", 0, true},
	}
	for _, tt := range tests {
		d, err := intervalDuration(tt.interval)
		if tt.wantErr {
			assert.Error(t, err, tt.interval)
			continue
		}
		require.NoError(t, err, tt.interval)
		assert.Equal(t, tt.want, d, tt.interval)
	}
}
