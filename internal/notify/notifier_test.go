package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (s *recSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recSender) Name() string { return s.name }

func (s *recSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

type chanSource chan domain.Event

func (c chanSource) Subscribe() (<-chan domain.Event, func()) { return c, func() {} }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"trade", " error "}, testLogger())
	ctx := context.Background()

	_ = n.Notify(ctx, "trade", "a", "")
	_ = n.Notify(ctx, "status", "b", "")
	_ = n.Notify(ctx, "error", "c", "")
	_ = n.NotifyAll(ctx, "d", "")

	if got := strings.Join(s.sent(), ","); got != "a,c,d" {
		t.Errorf("sent = %s", got)
	}
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &recSender{name: "bad", err: errors.New("down")}
	good := &recSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "anything", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if len(good.sent()) != 1 {
		t.Error("second sender skipped")
	}
}

func TestRunFormatsBusEvents(t *testing.T) {
	s := &recSender{name: "rec"}
	n := NewNotifier([]Sender{s}, DefaultEvents, testLogger())
	src := make(chanSource, 4)

	src <- domain.Event{Type: domain.EventStatus, Payload: domain.StatusEvent{State: "running"}}
	src <- domain.Event{Type: domain.EventTrade, Payload: domain.TradeEvent{
		Side:   domain.SideBuy,
		Record: domain.TradeRecord{Status: domain.TradeConfirmed, Instrument: "MintAddress1111111111", TxID: "sig"},
	}}
	src <- domain.Event{Type: domain.EventPositionAction, Payload: domain.PositionActionEvent{
		Symbol: "PEPE",
		Action: domain.Action{Kind: domain.ActionTakeProfit, SellPct: 30, PnLPct: 110},
		PnL:    0.03,
	}}
	close(src)

	if err := n.Run(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	got := s.sent()
	if len(got) != 2 || got[0] != "BUY confirmed" || got[1] != "Take profit PEPE" {
		t.Errorf("sent = %v", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		ev    domain.Event
		title string
		want  string
		ok    bool
	}{
		{
			name: "failed sell",
			ev: domain.Event{AccountID: "Acct1111111111111111", Payload: domain.TradeEvent{
				Side: domain.SideSell,
				Record: domain.TradeRecord{
					Status: domain.TradeFailed, ErrorKind: domain.ErrorKindStale, Attempts: 2, Error: "blockhash expired",
				},
			}},
			title: "SELL failed",
			want:  "stale after 2 attempt(s): blockhash expired",
			ok:    true,
		},
		{
			name:  "error with kind",
			ev:    domain.Event{Payload: domain.ErrorEvent{Component: "ledger", Kind: domain.ErrorKindPersistence, Message: "db down"}},
			title: "Error in ledger",
			want:  "[persistence] db down",
			ok:    true,
		},
		{
			name: "pending trade is silent",
			ev:   domain.Event{Payload: domain.TradeEvent{Record: domain.TradeRecord{Status: domain.TradePending}}},
		},
		{
			name: "status is silent",
			ev:   domain.Event{Payload: domain.StatusEvent{}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			title, msg, ok := Format(tc.ev)
			if ok != tc.ok {
				t.Fatalf("ok = %v", ok)
			}
			if title != tc.title || !strings.Contains(msg, tc.want) {
				t.Errorf("got %q / %q", title, msg)
			}
		})
	}
}

func TestShortAddr(t *testing.T) {
	if got := shortAddr("7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"); got != "7GCi..W2hr" {
		t.Errorf("shortAddr = %s", got)
	}
	if got := shortAddr("short"); got != "short" {
		t.Errorf("shortAddr = %s", got)
	}
}

func TestDiscordSender(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC) }
	if err := d.Send(context.Background(), "Title", strings.Repeat("x", 5000)); err != nil {
		t.Fatal(err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(payload.Embeds))
	}
	e := payload.Embeds[0]
	if e.Title != "Title" || e.Timestamp != "2026-10-14T09:30:00Z" {
		t.Errorf("embed = %+v", e)
	}
	if len(e.Description) > embedDescriptionMax || !strings.HasSuffix(e.Description, "…") {
		t.Errorf("description length = %d", len(e.Description))
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := truncate(s, 8)
	if !utf8.ValidString(got) || len(got) > 8 {
		t.Errorf("truncate = %q (%d bytes)", got, len(got))
	}
	if truncate("short", 10) != "short" {
		t.Error("short string changed")
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestTelegramSender(t *testing.T) {
	var (
		mu    sync.Mutex
		chat  string
		text  string
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/botTOKEN/getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
		case "/botTOKEN/sendMessage":
			mu.Lock()
			chat, text = r.FormValue("chat_id"), r.FormValue("text")
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.endpoint = srv.URL + "/bot%s/%s"
	s.client = &http.Client{Timeout: 2 * time.Second}

	for range 2 {
		if err := s.Send(context.Background(), "Title", "body"); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if chat != "42" || text != "*Title*\nbody" {
		t.Errorf("chat=%q text=%q", chat, text)
	}
	if len(calls) != 3 || calls[0] != "/botTOKEN/getMe" {
		t.Errorf("calls = %v, want one getMe then two sends", calls)
	}
}

func TestTelegramSenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewTelegramSender("T", "1").Send(ctx, "t", "m"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
