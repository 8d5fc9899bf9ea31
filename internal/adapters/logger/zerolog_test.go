package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input       string
		expected    zerolog.Level
		expectError bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestAdapterWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	a, err := New(Config{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.Info(context.Background(), "position opened", map[string]interface{}{"symbol": "NIFTY25JUNFUT", "quantity": 75})

	out := buf.String()
	for _, want := range []string{`"message":"position opened"`, `"symbol":"NIFTY25JUNFUT"`, `"quantity":75`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %s, got %s", want, out)
		}
	}
}

func TestAdapterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	a, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.Debug(context.Background(), "noise")
	a.Info(context.Background(), "noise")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %s", buf.String())
	}

	a.Error(context.Background(), errors.New("boom"), "order failed")
	out := buf.String()
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("expected error field, got %s", out)
	}
}
