package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sniperswing/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{BotToken: "t", ChatID: "c"})
	assert.Error(t, err)
}

type sentMessage struct {
	Path   string
	ChatID string
	Text   string
}

func TestEmitSendsMessage(t *testing.T) {
	received := make(chan sentMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		received <- sentMessage{Path: r.URL.Path, ChatID: r.PostForm.Get("chat_id"), Text: r.PostForm.Get("text")}
	}))
	defer srv.Close()

	n, err := New(Config{
		BotToken:   "token123",
		ChatID:     "-100200",
		APIBaseURL: srv.URL,
		Logger:     nopLogger{},
	})
	require.NoError(t, err)

	n.Emit(context.Background(), domain.EventEntry, map[string]interface{}{
		"symbol":   "NIFTY25JUNFUT",
		"quantity": 150.0,
	})

	select {
	case got := <-received:
		assert.Equal(t, "/bottoken123/sendMessage", got.Path)
		assert.Equal(t, "-100200", got.ChatID)
		assert.Contains(t, got.Text, "POSITION OPENED")
		assert.Contains(t, got.Text, "symbol: NIFTY25JUNFUT")
		assert.Contains(t, got.Text, "quantity: 150.00")
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never delivered")
	}
}

func TestEmitDisabledDoesNotSend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n, err := New(Config{APIBaseURL: srv.URL, Logger: nopLogger{}})
	require.NoError(t, err)

	n.Emit(context.Background(), domain.EventExit, map[string]interface{}{"pnl": 1250.0})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFormatMessage(t *testing.T) {
	got := formatMessage(domain.EventExit, map[string]interface{}{
		"pnl":    -312.5,
		"reason": "stop-loss",
		"symbol": "NIFTY25JUNFUT",
	})
	want := "POSITION CLOSED\npnl: -312.50\nreason: stop-loss\nsymbol: NIFTY25JUNFUT"
	assert.Equal(t, want, got)
}

func TestFormatMessageUnknownKind(t *testing.T) {
	got := formatMessage(domain.EventKind("custom_event"), nil)
	assert.Equal(t, "CUSTOM_EVENT", got)
}
