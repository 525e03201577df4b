package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pushgate/internal/auth"
	"github.com/rickgao/pushgate/internal/broadcast"
	"github.com/rickgao/pushgate/internal/config"
	"github.com/rickgao/pushgate/internal/registry"
	"github.com/rickgao/pushgate/internal/router"
	"github.com/rickgao/pushgate/internal/transport"
)

type staticVerifier struct {
	token    string
	identity string
}

func (v *staticVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	if token != v.token {
		return auth.Claims{}, &auth.AuthError{Reason: auth.ReasonBadSignature}
	}
	return auth.Claims{Subject: v.identity}, nil
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:       "127.0.0.1:0",
		HandshakeTimeout: 5 * time.Second,
		ReadLimit:        1 << 20,
		WriteTimeout:     time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		ShutdownTimeout:  time.Second,
	}
}

// newTestGateway wires a full in-memory gateway and returns its HTTP host,
// the registry, and the hub.
func newTestGateway(t *testing.T, verifier router.Verifier) (*httptest.Server, *registry.MemoryRegistry, *transport.Hub) {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	hub := transport.NewHub(time.Second, nil)
	b := broadcast.New(broadcast.DefaultConfig(), reg, hub, nil, nil)
	rtr := router.New(router.Config{AuthEnabled: verifier != nil}, verifier, reg, b, nil, nil, nil)

	srv := New(testServerConfig(), hub, rtr, nil, nil)
	host := httptest.NewServer(srv.Handler())
	t.Cleanup(host.Close)

	return host, reg, hub
}

func wsURL(host *httptest.Server) string {
	return "ws" + strings.TrimPrefix(host.URL, "http") + "/ws"
}

func dial(t *testing.T, host *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(host), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// waitForConnections polls the registry until it holds want entries.
func waitForConnections(t *testing.T, reg registry.Registry, want int) []registry.Connection {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conns, err := reg.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(conns) == want {
			return conns
		}
		if time.Now().After(deadline) {
			t.Fatalf("registry has %d connections, want %d", len(conns), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectRegistersConnection(t *testing.T) {
	host, reg, hub := newTestGateway(t, nil)

	dial(t, host, nil)

	conns := waitForConnections(t, reg, 1)
	if conns[0].ID == "" {
		t.Error("registered connection has empty id")
	}
	if hub.Len() != 1 {
		t.Errorf("hub.Len() = %d, want 1", hub.Len())
	}
}

func TestBroadcastReachesPeersNotSender(t *testing.T) {
	host, reg, _ := newTestGateway(t, nil)

	c1 := dial(t, host, nil)
	c2 := dial(t, host, nil)
	waitForConnections(t, reg, 2)

	msg := `{"action":"broadcast","payload":{"text":"hello"}}`
	if err := c1.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c2.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if got, want := string(data), `{"text":"hello"}`; got != want {
		t.Errorf("peer received %q, want %q", got, want)
	}

	// The sender must not hear its own broadcast.
	c1.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := c1.ReadMessage(); err == nil {
		t.Error("sender received its own broadcast")
	}
}

func TestDisconnectRemovesRegistration(t *testing.T) {
	host, reg, hub := newTestGateway(t, nil)

	c := dial(t, host, nil)
	waitForConnections(t, reg, 1)

	c.Close()

	waitForConnections(t, reg, 0)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub.Len() = %d after disconnect, want 0", hub.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpgradeRejectedWithoutToken(t *testing.T) {
	host, reg, _ := newTestGateway(t, &staticVerifier{token: "good", identity: "u1"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(host), nil)
	if err == nil {
		t.Fatal("dial succeeded without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}

	conns, _ := reg.List(context.Background())
	if len(conns) != 0 {
		t.Errorf("rejected connection left %d registry entries", len(conns))
	}
}

func TestUpgradeAcceptedWithToken(t *testing.T) {
	host, reg, _ := newTestGateway(t, &staticVerifier{token: "good", identity: "u1"})

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	dial(t, host, header)

	conns := waitForConnections(t, reg, 1)
	if conns[0].Identity != "u1" {
		t.Errorf("Identity = %q, want %q", conns[0].Identity, "u1")
	}
}

func TestHealthEndpoint(t *testing.T) {
	host, _, _ := newTestGateway(t, nil)

	resp, err := http.Get(host.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
