package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer serves one script of messages per connection, then closes it.
func wsServer(t *testing.T, scripts [][]string, subs chan<- string) (string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(conns.Add(1)) - 1

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if subs != nil {
			subs <- string(sub)
		}
		if n >= len(scripts) {
			// Hold the last connection open until the client leaves.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		for _, m := range scripts[n] {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func create(mint string) string {
	b, _ := json.Marshal(map[string]any{
		"signature":       "sig-" + mint,
		"mint":            mint,
		"traderPublicKey": "creator",
		"txType":          "create",
		"name":            "Token " + mint,
		"symbol":          mint,
	})
	return string(b)
}

func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case m := <-ch:
			got = append(got, m)
		case <-timeout:
			t.Fatalf("got %v, want %d items", got, n)
		}
	}
	return got
}

func TestTokenFeedEmitsAndDedups(t *testing.T) {
	subs := make(chan string, 4)
	url, _ := wsServer(t, [][]string{{
		create("A"),
		create("A"),
		`{"mint":"C","txType":"buy"}`,
		`not json`,
		create("B"),
	}}, subs)

	f := NewTokenFeed(TokenFeedConfig{URL: url, BaseDelay: 10 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	mints := make(chan string, 8)
	go func() {
		for c := range f.Candidates() {
			mints <- c.Token.Mint
		}
		close(mints)
	}()

	got := collect(t, mints, 2)
	if got[0] != "A" || got[1] != "B" {
		t.Errorf("mints = %v", got)
	}
	if sub := <-subs; sub != `{"method":"subscribeNewToken"}` {
		t.Errorf("subscribe = %s", sub)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, open := <-mints; open {
		t.Error("candidate channel not closed")
	}
}

func TestTokenFeedReconnects(t *testing.T) {
	url, conns := wsServer(t, [][]string{{create("A")}, {create("A"), create("B")}}, nil)

	f := NewTokenFeed(TokenFeedConfig{URL: url, BaseDelay: 5 * time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	var got []string
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case c := <-f.Candidates():
			got = append(got, c.Token.Mint)
		case <-timeout:
			t.Fatalf("got %v", got)
		}
	}
	if got[0] != "A" || got[1] != "B" {
		t.Errorf("mints = %v", got)
	}
	if conns.Load() < 2 {
		t.Errorf("connections = %d", conns.Load())
	}
}

func TestTokenFeedGivesUp(t *testing.T) {
	f := NewTokenFeed(TokenFeedConfig{
		URL:         "ws://127.0.0.1:1/none",
		BaseDelay:   time.Millisecond,
		MaxAttempts: 2,
	}, testLogger())
	err := f.Run(context.Background())
	if !errors.Is(err, ErrReconnectsExhausted) {
		t.Fatalf("Run = %v", err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	f := NewTokenFeed(TokenFeedConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, testLogger())
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := f.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRunConnectionKeepsCloseCause(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(create("A")))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	f := NewTokenFeed(TokenFeedConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, testLogger())
	received, err := f.runConnection(context.Background())
	if received != 1 {
		t.Errorf("received = %d, want 1", received)
	}
	if !errors.Is(err, domain.ErrWSDisconnect) {
		t.Fatalf("err = %v, want ErrWSDisconnect", err)
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Errorf("err = %v, want the close frame as cause", err)
	}
}
