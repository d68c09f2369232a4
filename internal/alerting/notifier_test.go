package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		Kind:        KindHarvestLoss,
		OccurredAt:  time.Now(),
		Profit:      decimal.NewFromInt(0),
		Loss:        decimal.NewFromInt(10),
		DebtPayment: decimal.NewFromInt(90),
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], KindHarvestLoss) {
		t.Fatalf("message should name the event kind: %q", received["text"])
	}
	if !strings.Contains(received["text"], "Loss: 10") {
		t.Fatalf("loss notifications should carry amounts: %q", received["text"])
	}
}

func TestTelegramNotifierAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: KindHarvestFailed, OccurredAt: time.Now(), Message: "boom"}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: KindTendFailed, OccurredAt: time.Now(), Message: "rpc unavailable"}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("non-2xx status should be an error")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
