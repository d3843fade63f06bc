package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GeoDaCenter/gdabridge/internal/bridge"
	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/project"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
	"github.com/GeoDaCenter/gdabridge/internal/store"
	"github.com/GeoDaCenter/gdabridge/internal/ws"
)

const sampleTable = `{
	"time_steps": ["2000"],
	"columns": [
		{"name": "CRIME", "data": [[1.5, 2.5, 3.5]]},
		{"name": "INC", "data": [[10, 20, 30]]},
	],
}`

type testServer struct {
	url     string
	hub     *ws.Hub
	project *project.Project
}

func newTestServer(t *testing.T, token string, opts ...ws.HubOption) testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	table, err := project.ParseTable([]byte(sampleTable))
	require.NoError(t, err)
	st := store.NewMemoryStore()
	p := project.New(table, st, logger)
	hub := ws.NewHub(host.New(p, st, host.WithLogger(logger)), token, logger, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/page", hub.HandlePage)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return testServer{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/page",
		hub:     hub,
		project: p,
	}
}

type page struct {
	client *ws.Client
	bridge *bridge.Bridge
	ready  chan protocol.Notification
	hl     chan protocol.Notification
}

func connect(t *testing.T, srv testServer, token string) *page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ws.Dial(ctx, srv.url, token, zaptest.NewLogger(t))
	require.NoError(t, err)

	p := &page{
		client: client,
		bridge: bridge.New(client),
		ready:  make(chan protocol.Notification, 1),
		hl:     make(chan protocol.Notification, 8),
	}
	p.bridge.OnUpdate(protocol.ObservableReady, func(n protocol.Notification) { p.ready <- n })
	p.bridge.OnUpdate(protocol.ObservableHighlight, func(n protocol.Notification) { p.hl <- n })
	require.NoError(t, client.Serve(p.bridge))
	t.Cleanup(func() { _ = client.Close() })

	select {
	case <-p.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no Ready notification from host")
	}
	return p
}

func TestHub_RequestResponse(t *testing.T) {
	srv := newTestServer(t, "")
	p := connect(t, srv, "")
	assert.NotEmpty(t, p.client.SessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.bridge.Call(ctx, []any{
		map[string]any{"interface": "table", "operation": "getName", "params": map[string]int{"col": 1}},
		map[string]any{"interface": "table", "operation": "getColData", "params": map[string]int{"col": 0, "time": 0}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `"INC"`, string(got[0]))
	assert.JSONEq(t, `[1.5,2.5,3.5]`, string(got[1]))
	assert.Equal(t, 0, p.bridge.Pending())
}

func TestHub_NotifyReachesOtherPages(t *testing.T) {
	srv := newTestServer(t, "")
	a := connect(t, srv, "")
	b := connect(t, srv, "")
	require.Eventually(t, func() bool { return srv.hub.Sessions() == 2 }, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	n := protocol.Notification{Observable: protocol.ObservableHighlight}.
		With("event_type", "delta").
		With("newly_highlighted", []int{2}).
		With("newly_unhighlighted", []int{})
	require.NoError(t, a.bridge.Notify(ctx, n))

	select {
	case got := <-b.hl:
		assert.Equal(t, "delta", got.Event)
		var ids []int
		_, err := got.Field("newly_highlighted", &ids)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("other page did not receive the highlight update")
	}

	select {
	case <-a.hl:
		t.Fatal("originating page must not receive its own change")
	case <-time.After(50 * time.Millisecond):
	}

	sel, err := srv.project.Selected(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, sel)
}

func TestHub_RejectsBadToken(t *testing.T) {
	srv := newTestServer(t, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.Dial(ctx, srv.url, "wrong", nil)
	assert.Error(t, err)

	p := connect(t, srv, "secret")
	assert.NotNil(t, p)
}

func TestHub_CallTimesOutWhenHostSilent(t *testing.T) {
	srv := newTestServer(t, "")
	p := connect(t, srv, "")

	// A descriptor that is not an object aborts the request host-side, so no
	// response ever comes back.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.bridge.Call(ctx, []any{"not-an-object"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.bridge.Pending())
}

func signToken(t *testing.T, secret []byte, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "viewer",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestHub_JWTAuth(t *testing.T) {
	secret := []byte("test-secret")
	srv := newTestServer(t, "ignored", ws.WithJWTSecret(secret))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.Dial(ctx, srv.url, signToken(t, secret, time.Now().Add(-time.Minute)), nil)
	assert.Error(t, err, "expired token")

	_, err = ws.Dial(ctx, srv.url, signToken(t, []byte("other"), time.Now().Add(time.Minute)), nil)
	assert.Error(t, err, "wrong key")

	_, err = ws.Dial(ctx, srv.url, "ignored", nil)
	assert.Error(t, err, "static token is not accepted")

	p := connect(t, srv, signToken(t, secret, time.Now().Add(time.Minute)))
	assert.NotEmpty(t, p.client.SessionID())
}

func TestHub_TokenQueryParam(t *testing.T) {
	srv := newTestServer(t, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := ws.Dial(ctx, srv.url+"?token=secret", "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestHub_TitleRateLimit(t *testing.T) {
	srv := newTestServer(t, "", ws.WithTitleRate(0.001, 1))
	p := connect(t, srv, "")
	req := []any{map[string]any{"interface": "table", "operation": "getName", "params": map[string]int{"col": 0}}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.bridge.Call(ctx, req)
	require.NoError(t, err)
	assert.JSONEq(t, `"CRIME"`, string(got[0]))

	limited, cancelLimited := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelLimited()
	_, err = p.bridge.Call(limited, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
