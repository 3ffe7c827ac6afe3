package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/bizdocs/collabhub/internal/testutil"
)

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestNew(t *testing.T) {
	t.Run("requires a url", func(t *testing.T) {
		_, err := New(Options{Token: staticToken("t")})
		assert.Error(t, err)
	})

	t.Run("requires a token func", func(t *testing.T) {
		_, err := New(Options{URL: "ws://localhost/ws"})
		assert.Error(t, err)
	})

	t.Run("defaults the retry budget", func(t *testing.T) {
		c, err := New(Options{URL: "ws://localhost/ws", Token: staticToken("t")})
		assert.NoError(t, err)
		assert.Equal(t, defaultMaxAuthRetries, c.maxAuthRetries)
	})
}

func TestRefreshToken_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32

	c, err := New(Options{
		URL:    "ws://localhost/ws",
		Logger: testutil.TestLogger(t),
		Token: func(ctx context.Context) (string, error) {
			calls.Add(1)
			<-gate
			return "fresh-token", nil
		},
	})
	assert.NoError(t, err)

	const waiters = 5
	tokens := make([]string, waiters)
	errs := make([]error, waiters)

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.refreshToken(context.Background())
		}(i)
	}

	// let every goroutine either enter the refresh or park on it
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "expected one refresh to serve all concurrent callers")
	for i := 0; i < waiters; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", tokens[i])
	}
}

func TestRefreshToken_SequentialCallsRefreshAgain(t *testing.T) {
	var calls atomic.Int32

	c, err := New(Options{
		URL:    "ws://localhost/ws",
		Logger: testutil.TestLogger(t),
		Token: func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "t", nil
		},
	})
	assert.NoError(t, err)

	_, err = c.refreshToken(context.Background())
	assert.NoError(t, err)
	_, err = c.refreshToken(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load(), "expected refreshes after the first completes to call out again")
}

func rejectWith(t *testing.T, code string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"status_code": 401, "code": code})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHandshake_RetriesExpiredTokenThenFails(t *testing.T) {
	ts := rejectWith(t, "token_expired")

	var calls atomic.Int32
	c, err := New(Options{
		URL:            wsURL(ts.URL) + "/ws",
		Logger:         testutil.TestLogger(t),
		MaxAuthRetries: 3,
		Token: func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "expired-token", nil
		},
	})
	assert.NoError(t, err)

	_, err = c.handshake(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed, "expected a hard auth failure once the retry budget is spent")
	assert.Equal(t, int32(3), calls.Load(), "expected one fresh token per allowed attempt")
}

func TestHandshake_InvalidTokenFailsImmediately(t *testing.T) {
	ts := rejectWith(t, "token_invalid")

	var calls atomic.Int32
	c, err := New(Options{
		URL:    wsURL(ts.URL) + "/ws",
		Logger: testutil.TestLogger(t),
		Token: func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "bad-token", nil
		},
	})
	assert.NoError(t, err)

	_, err = c.handshake(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, int32(1), calls.Load(), "expected no refresh for a token rejected as invalid")
}

func TestHandshakeErrorCode(t *testing.T) {
	tt := []struct {
		name string
		body string
		want string
	}{
		{name: "expired", body: `{"status_code":401,"code":"token_expired","message":"connection token expired"}`, want: "token_expired"},
		{name: "invalid", body: `{"status_code":401,"code":"token_invalid"}`, want: "token_invalid"},
		{name: "no code", body: `{"status_code":401,"message":"unauthorized"}`, want: "unauthorized"},
		{name: "not json", body: `upstream error`, want: "unauthorized"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{Body: io.NopCloser(strings.NewReader(tc.body))}
			assert.Equal(t, tc.want, handshakeErrorCode(resp))
		})
	}
}

func TestRunReconnectsAndRejoins(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joins := make(chan string, 8)
	var conns atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(raw, &ev) == nil && ev.Event == "join:collaboration" {
				joins <- ev.Event
				// drop the first connection after its join to force a reconnect
				if n == 1 {
					conn.Close()
					return
				}
			}
		}
	}))
	defer ts.Close()

	c, err := New(Options{
		URL:    wsURL(ts.URL) + "/ws",
		Token:  staticToken("t"),
		Logger: testutil.TestLogger(t),
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return c.State() == Connected
	}, 2*time.Second, 10*time.Millisecond, "expected the client to connect")

	assert.NoError(t, c.JoinCollaboration("quote", "Q1"))

	select {
	case <-joins:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the server to see the join")
	}

	// server drops the connection; the client reconnects and re-issues
	// the join without any caller involvement
	select {
	case <-joins:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a fresh join after the reconnect")
	}

	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after Close")
	}
}
