package stomp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/internal/core/services"
	"arenalink/internal/infrastructure/registry"
	"arenalink/internal/infrastructure/repositories/memory"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testStack struct {
	server     *Server
	httpServer *httptest.Server
	registry   *registry.SessionRegistry
	tokens     *services.TokenService
}

func newTestStack(t *testing.T, rejectAnonymous bool, opts ...func(*Config)) *testStack {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	stores := memory.NewStores()
	for _, subject := range []string{"alice@example.com", "bob@example.com"} {
		require.NoError(t, stores.Players.Add(domain.Account{Subject: subject, DisplayName: subject}))
	}
	resolver := services.NewIdentityResolver(ports.AccountStores{
		Players:       stores.Players,
		Organizations: stores.Organizations,
		Spectators:    stores.Spectators,
	})
	tokens, err := services.NewTokenService("test-secret")
	require.NoError(t, err)

	auth := services.NewConnectionAuthenticator(tokens, resolver, rejectAnonymous, nil, logger)
	reg := registry.NewSessionRegistry(4, nil, logger)
	broker := services.NewMessageBroker(reg, nil, logger)

	cfg := DefaultConfig()
	cfg.FrameRate = 0
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := NewServer(cfg, auth, reg, broker, nil, logger)
	httpServer := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(httpServer.Close)

	return &testStack{server: srv, httpServer: httpServer, registry: reg, tokens: tokens}
}

func (s *testStack) token(t *testing.T, subject string) string {
	t.Helper()
	identity := domain.NewIdentity(subject, 1, domain.AccountPlayer, subject)
	token, _, err := s.tokens.Issue(identity, time.Minute)
	require.NoError(t, err)
	return token
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (s *testStack) dial(t *testing.T, query string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws" + query
	dialer := websocket.Dialer{Subprotocols: []string{"v12.stomp"}}
	ws, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, "v12.stomp", resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(f *frame.Frame) {
	c.t.Helper()
	data, err := Encode(f)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *testClient) read() *frame.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err)
		f, err := Decode(data)
		require.NoError(c.t, err)
		if f != nil {
			return f
		}
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ws.ReadMessage()
	assert.Error(c.t, err)
}

func (c *testClient) connect(authorization string) *frame.Frame {
	c.t.Helper()
	f := frame.New("CONNECT", HeaderAcceptVersion, "1.1,1.2", "host", "arenalink")
	if authorization != "" {
		f.Header.Set(services.AuthorizationHeader, authorization)
	}
	c.send(f)
	return c.read()
}

func (c *testClient) subscribe(id, destination string) {
	c.t.Helper()
	c.send(frame.New("SUBSCRIBE", HeaderID, id, HeaderDestination, destination, HeaderReceipt, "sub-"+id))
	receipt := c.read()
	require.Equal(c.t, CommandReceipt, receipt.Command)
	require.Equal(c.t, "sub-"+id, receipt.Header.Get(HeaderReceiptID))
}

func sendFrame(destination, body string) *frame.Frame {
	f := frame.New("SEND", HeaderDestination, destination, HeaderContentType, "text/plain")
	f.Body = []byte(body)
	return f
}

func TestServer_BearerConnectBindsIdentity(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "")

	connected := client.connect("Bearer " + stack.token(t, "alice@example.com"))
	require.Equal(t, CommandConnected, connected.Command)
	assert.Equal(t, "1.2", connected.Header.Get(HeaderVersion))
	assert.Equal(t, "alice@example.com", connected.Header.Get(HeaderUserName))

	sessionID := domain.SessionID(connected.Header.Get(HeaderSession))
	identity, ok := stack.registry.IdentityOf(sessionID)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", identity.Subject)
}

func TestServer_AnonymousSendToUserIsRejected(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "")

	connected := client.connect("")
	require.Equal(t, CommandConnected, connected.Command)
	_, hasUser := connected.Header.Contains(HeaderUserName)
	assert.False(t, hasUser)

	sessionID := domain.SessionID(connected.Header.Get(HeaderSession))
	_, ok := stack.registry.IdentityOf(sessionID)
	assert.False(t, ok)

	send := sendFrame("/user/alice@example.com/inbox", "hi")
	send.Header.Set(HeaderReceipt, "r-1")
	client.send(send)

	errFrame := client.read()
	require.Equal(t, CommandError, errFrame.Command)
	assert.Equal(t, "FORBIDDEN", errFrame.Header.Get(HeaderMessage))
	assert.Equal(t, "r-1", errFrame.Header.Get(HeaderReceiptID))
	client.expectClosed()

	assert.Eventually(t, func() bool { return stack.registry.Stats().ActiveSessions == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_InvalidTokenConnectsAnonymously(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "")

	connected := client.connect("Bearer not-a-token")
	require.Equal(t, CommandConnected, connected.Command)
	assert.Empty(t, connected.Header.Get(HeaderUserName))

	client.subscribe("0", "/topic/lobby")
	assert.Len(t, stack.registry.SessionsFor("/topic/lobby"), 1)
}

func TestServer_AccessTokenQueryParameter(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "?access_token="+stack.token(t, "bob@example.com"))

	connected := client.connect("")
	require.Equal(t, CommandConnected, connected.Command)
	assert.Equal(t, "bob@example.com", connected.Header.Get(HeaderUserName))
}

func TestServer_RejectAnonymous(t *testing.T) {
	stack := newTestStack(t, true)
	client := stack.dial(t, "")

	errFrame := client.connect("")
	require.Equal(t, CommandError, errFrame.Command)
	assert.Equal(t, "UNAUTHORIZED", errFrame.Header.Get(HeaderMessage))
	client.expectClosed()
	assert.Zero(t, stack.registry.Stats().ActiveSessions)
}

func TestServer_BroadcastKeepsOrder(t *testing.T) {
	stack := newTestStack(t, false)
	sender := stack.dial(t, "")
	receiver := stack.dial(t, "")
	require.Equal(t, CommandConnected, sender.connect("").Command)
	require.Equal(t, CommandConnected, receiver.connect("").Command)
	receiver.subscribe("7", "/topic/lobby")

	bodies := []string{"one", "two", "three", "four"}
	for _, body := range bodies {
		sender.send(sendFrame("/topic/lobby", body))
	}

	for _, body := range bodies {
		msg := receiver.read()
		require.Equal(t, CommandMessage, msg.Command)
		assert.Equal(t, body, string(msg.Body))
		assert.Equal(t, "7", msg.Header.Get(HeaderSubscription))
		assert.Equal(t, "/topic/lobby", msg.Header.Get(HeaderDestination))
		assert.NotEmpty(t, msg.Header.Get(HeaderMessageID))
	}
}

func TestServer_ChatReachesEveryDevice(t *testing.T) {
	stack := newTestStack(t, false)
	alice := stack.dial(t, "")
	phone := stack.dial(t, "")
	laptop := stack.dial(t, "")

	require.Equal(t, CommandConnected, alice.connect("Bearer "+stack.token(t, "alice@example.com")).Command)
	bobToken := stack.token(t, "bob@example.com")
	require.Equal(t, CommandConnected, phone.connect(bobToken).Command)
	require.Equal(t, CommandConnected, laptop.connect("Bearer "+bobToken).Command)
	phone.subscribe("m", "/user/queue/messages")
	laptop.subscribe("m", "/user/queue/messages")

	chat := sendFrame("/app/chat", `{"to":"bob@example.com","content":"glhf"}`)
	chat.Header.Set(HeaderContentType, "application/json")
	alice.send(chat)

	for _, device := range []*testClient{phone, laptop} {
		msg := device.read()
		require.Equal(t, CommandMessage, msg.Command)
		assert.Equal(t, "/user/queue/messages", msg.Header.Get(HeaderDestination))
		assert.Equal(t, "m", msg.Header.Get(HeaderSubscription))
		assert.Contains(t, string(msg.Body), `"from":"alice@example.com"`)
	}
}

func TestServer_DisconnectWithReceipt(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "")
	require.Equal(t, CommandConnected, client.connect("").Command)
	client.subscribe("1", "/topic/lobby")

	client.send(frame.New("DISCONNECT", HeaderReceipt, "bye"))
	receipt := client.read()
	require.Equal(t, CommandReceipt, receipt.Command)
	assert.Equal(t, "bye", receipt.Header.Get(HeaderReceiptID))
	client.expectClosed()

	assert.Eventually(t, func() bool {
		return stack.registry.Stats().ActiveSessions == 0 && len(stack.registry.SessionsFor("/topic/lobby")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_FirstFrameMustBeConnect(t *testing.T) {
	stack := newTestStack(t, false)
	client := stack.dial(t, "")

	client.send(sendFrame("/topic/lobby", "too early"))
	errFrame := client.read()
	require.Equal(t, CommandError, errFrame.Command)
	client.expectClosed()
}

func TestServer_ConnectionLimit(t *testing.T) {
	stack := newTestStack(t, false, func(cfg *Config) { cfg.MaxConnections = 1 })

	first := stack.dial(t, "")
	require.Equal(t, CommandConnected, first.connect("").Command)

	url := "ws" + strings.TrimPrefix(stack.httpServer.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_FrameRateLimit(t *testing.T) {
	stack := newTestStack(t, false, func(cfg *Config) {
		cfg.FrameRate = 0.001
		cfg.FrameBurst = 1
	})
	client := stack.dial(t, "")
	require.Equal(t, CommandConnected, client.connect("").Command)

	client.subscribe("1", "/topic/lobby")
	client.send(sendFrame("/topic/lobby", "over the limit"))

	errFrame := client.read()
	require.Equal(t, CommandError, errFrame.Command)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errFrame.Header.Get(HeaderMessage))
	client.expectClosed()
}

func TestServer_ShutdownClosesHandshakingConnections(t *testing.T) {
	stack := newTestStack(t, false, func(cfg *Config) { cfg.ConnectTimeout = time.Minute })
	connected := stack.dial(t, "")
	require.Equal(t, CommandConnected, connected.connect("").Command)

	// Never sends CONNECT, so the server is still waiting on its first frame.
	handshaking := stack.dial(t, "")
	require.Eventually(t, func() bool {
		stack.server.mu.Lock()
		defer stack.server.mu.Unlock()
		return len(stack.server.pending) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, stack.server.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)

	handshaking.expectClosed()
	connected.expectClosed()
	assert.Zero(t, stack.server.ActiveConnections())
	assert.Zero(t, stack.registry.Stats().ActiveSessions)

	url := "ws" + strings.TrimPrefix(stack.httpServer.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
