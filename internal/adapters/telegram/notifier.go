// Package telegram delivers lifecycle event notifications through the
// Telegram Bot API. Delivery is asynchronous: the trading core never waits
// on, or fails because of, a notification.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

const (
	defaultAPIBaseURL  = "https://api.telegram.org"
	defaultSendTimeout = 5 * time.Second
)

// Config holds the bot credentials and delivery tuning.
type Config struct {
	BotToken   string
	ChatID     string
	APIBaseURL string // overridable for tests
	Timeout    time.Duration
	Logger     ports.Logger
}

// Notifier implements ports.Notifier over the Bot API sendMessage method.
// With an empty BotToken or ChatID the notifier runs disabled and logs
// events at debug level instead of sending them.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	logger     ports.Logger
	enabled    bool
}

func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for telegram notifier")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	enabled := cfg.BotToken != "" && cfg.ChatID != ""
	if !enabled {
		cfg.Logger.Warn(context.Background(), "telegram notifier disabled, BotToken or ChatID is empty")
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
		enabled:    enabled,
	}, nil
}

// Emit formats and dispatches the event without blocking the caller.
func (n *Notifier) Emit(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) {
	text := formatMessage(kind, payload)
	if !n.enabled {
		n.logger.Debug(ctx, "notification suppressed", map[string]interface{}{
			"kind": string(kind),
			"text": text,
		})
		return
	}
	go n.send(kind, text)
}

func (n *Notifier) send(kind domain.EventKind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.APIBaseURL, n.cfg.BotToken)
	form := url.Values{}
	form.Set("chat_id", n.cfg.ChatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		n.logger.Error(ctx, err, "failed to build telegram request", map[string]interface{}{"kind": string(kind)})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error(ctx, err, "failed to send telegram notification", map[string]interface{}{"kind": string(kind)})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn(ctx, "telegram API returned non-OK status", map[string]interface{}{
			"kind":   string(kind),
			"status": resp.StatusCode,
		})
	}
}

var eventTitles = map[domain.EventKind]string{
	domain.EventEntry:           "POSITION OPENED",
	domain.EventPartialExit:     "PARTIAL EXIT",
	domain.EventExit:            "POSITION CLOSED",
	domain.EventRollover:        "CONTRACT ROLLOVER",
	domain.EventForcedExitWarn:  "FORCED EXIT WARNING",
	domain.EventExecutionAlert:  "EXECUTION ALERT",
	domain.EventInvariantAlert:  "INVARIANT ALERT",
	domain.EventServiceStarted:  "SERVICE STARTED",
	domain.EventServiceStopping: "SERVICE STOPPING",
}

// formatMessage renders one event as a plain-text message with a title line
// followed by sorted key/value lines.
func formatMessage(kind domain.EventKind, payload map[string]interface{}) string {
	title, ok := eventTitles[kind]
	if !ok {
		title = strings.ToUpper(string(kind))
	}

	var b strings.Builder
	b.WriteString(title)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(formatValue(payload[k]))
	}
	return b.String()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", val)
	}
}
