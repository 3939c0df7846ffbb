package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"arenalink/internal/core/domain"
	"arenalink/internal/core/ports"
	"arenalink/internal/core/services"
	"arenalink/pkg/idgen"
	"arenalink/pkg/optimize"
	"arenalink/pkg/tracing"

	apperrors "arenalink/pkg/errors"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const accessTokenParam = "access_token"

var encodeBuffers = optimize.NewBufferPool(512, 64*1024)

var (
	ErrAnonymousRejected = errors.New("anonymous connection rejected")
	errProtocol          = errors.New("protocol violation")
)

// Authenticator runs the CONNECT handshake for one connection.
type Authenticator interface {
	Authenticate(ctx context.Context, h *services.Handshake, credential string) (context.Context, error)
	RejectAnonymous() bool
}

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	OutboxSize     int
	MaxFrameSize   int64
	MaxConnections int
	// FrameRate is the sustained inbound frames per second per connection; 0 disables the limit.
	FrameRate      float64
	FrameBurst     int
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		OutboxSize:     256,
		MaxFrameSize:   64 * 1024,
		MaxConnections: 10000,
		FrameRate:      50,
		FrameBurst:     100,
	}
}

// Server accepts STOMP-over-WebSocket connections. Each connection runs one
// read loop that routes its frames in order and one writer that owns the socket.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	auth     Authenticator
	registry ports.SessionRegistry
	broker   ports.MessageBroker
	metrics  ports.RealtimeMetrics
	logger   *zap.SugaredLogger

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	conns   map[domain.SessionID]*connection
	pending map[*websocket.Conn]struct{}
}

func NewServer(cfg Config, auth Authenticator, registry ports.SessionRegistry, broker ports.MessageBroker, metrics ports.RealtimeMetrics, logger *zap.SugaredLogger) *Server {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaults.MaxFrameSize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaults.MaxConnections
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		auth:     auth,
		registry: registry,
		broker:   broker,
		metrics:  metrics,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConnections),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[domain.SessionID]*connection),
		pending:  make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    Subprotocols,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	default:
		s.logger.Warnw("connection limit reached", "remote_addr", r.RemoteAddr, "limit", s.cfg.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-s.slots }()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(s.cfg.MaxFrameSize)

	if !s.addPending(ws) {
		s.closeGoingAway(ws)
		return
	}

	c, err := s.handshake(r, ws, domain.SessionID(idgen.SessionID()))
	if err != nil {
		s.removePending(ws)
		s.logger.Infow("stomp handshake failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	if !s.promote(ws, c) {
		s.registry.OnDisconnect(c.id)
		c.cancel()
		s.closeGoingAway(ws)
		c.logger.Infow("session closed during shutdown")
		return
	}

	go c.writePump()
	c.readPump()

	s.registry.OnDisconnect(c.id)
	c.cancel()
	<-c.writerDone

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	c.logger.Infow("session closed")
}

// track counts a request towards Shutdown's wait. It fails once Shutdown began.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) addPending(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[ws] = struct{}{}
	return true
}

func (s *Server) removePending(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.pending, ws)
	s.mu.Unlock()
}

// promote moves a socket that finished its handshake into the live set.
func (s *Server) promote(ws *websocket.Conn, c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ws)
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) closeGoingAway(ws *websocket.Conn) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	_ = ws.Close()
}

// handshake reads the CONNECT frame, authenticates it and registers the session.
func (s *Server) handshake(r *http.Request, ws *websocket.Conn, id domain.SessionID) (*connection, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout))

	var f *frame.Frame
	for f == nil {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read CONNECT: %w", err)
		}
		if f, err = Decode(data); err != nil {
			s.writeDirect(ws, ErrorFrame(string(apperrors.ErrCodeInvalidInput), "malformed frame", ""))
			return nil, err
		}
	}

	if f.Command != string(domain.CommandConnect) && f.Command != string(domain.CommandStomp) {
		s.writeDirect(ws, ErrorFrame(string(apperrors.ErrCodeUnsupported), "expected CONNECT", ""))
		return nil, fmt.Errorf("%w: first frame was %s", errProtocol, f.Command)
	}
	s.metrics.FrameReceived(f.Command)

	version, err := NegotiateVersion(f.Header.Get(HeaderAcceptVersion))
	if err != nil {
		s.writeDirect(ws, ErrorFrame(string(apperrors.ErrCodeUnsupported), "supported versions are 1.0, 1.1, 1.2", ""))
		return nil, err
	}

	h := services.NewHandshake(id)
	ctx, err := s.auth.Authenticate(s.ctx, h, credentialFrom(f, r))
	if err != nil {
		return nil, err
	}
	identity := h.Identity()

	logger := s.logger.With("session_id", id, "subject", subjectOf(identity))
	logger.Infow("stomp frame", "command", f.Command, "destination", "", "auth_status", h.Status().String())

	if identity == nil && s.auth.RejectAnonymous() {
		s.writeDirect(ws, ErrorFrame(string(apperrors.ErrCodeUnauthorized), "unauthenticated", ""))
		return nil, ErrAnonymousRejected
	}

	ctx, cancel := context.WithCancel(domain.ContextWithSessionID(ctx, id))
	mailbox := NewMailbox(s.cfg.OutboxSize)
	if err := s.registry.OnConnect(id, identity, mailbox); err != nil {
		cancel()
		s.writeDirect(ws, ErrorFrame(string(apperrors.ErrCodeInternal), "internal error", ""))
		return nil, err
	}
	if err := s.writeDirect(ws, ConnectedFrame(version, id, identity)); err != nil {
		cancel()
		s.registry.OnDisconnect(id)
		return nil, err
	}

	return &connection{
		server:     s,
		id:         id,
		ws:         ws,
		identity:   identity,
		mailbox:    mailbox,
		control:    make(chan outbound, 16),
		writerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		limiter:    newFrameLimiter(s.cfg.FrameRate, s.cfg.FrameBurst),
		logger:     logger,
	}, nil
}

func (s *Server) writeDirect(ws *websocket.Conn, f *frame.Frame) error {
	buf := encodeBuffers.Get()
	defer encodeBuffers.Put(buf)

	if err := EncodeTo(buf, f); err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// Shutdown stops accepting connections, closes the open ones and waits for
// their loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	handshaking := make([]*websocket.Conn, 0, len(s.pending))
	for ws := range s.pending {
		handshaking = append(handshaking, ws)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.closeSocket(websocket.CloseGoingAway, "server shutting down")
	}
	for _, ws := range handshaking {
		s.closeGoingAway(ws)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func credentialFrom(f *frame.Frame, r *http.Request) string {
	if v, ok := f.Header.Contains(services.AuthorizationHeader); ok {
		return v
	}
	if v := r.Header.Get(services.AuthorizationHeader); v != "" {
		return v
	}
	return r.URL.Query().Get(accessTokenParam)
}

func subjectOf(identity *domain.Identity) string {
	if identity == nil {
		return "anonymous"
	}
	return identity.Subject
}

func newFrameLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type outbound struct {
	frame      *frame.Frame
	closeAfter bool
}

type connection struct {
	server   *Server
	id       domain.SessionID
	ws       *websocket.Conn
	identity *domain.Identity
	mailbox  *Mailbox
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger

	control    chan outbound
	writerDone chan struct{}
	closeOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *connection) readPump() {
	pongTimeout := c.server.cfg.PongTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Infow("websocket read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))

		f, err := Decode(data)
		if err != nil {
			c.fail(apperrors.NewInvalidInputError("malformed frame"), "")
			return
		}
		if f == nil {
			continue
		}
		if !c.limiter.Allow() {
			c.fail(apperrors.NewRateLimitError(), f.Header.Get(HeaderReceipt))
			return
		}
		if !c.handleFrame(f) {
			return
		}
	}
}

// handleFrame processes one frame and reports whether the read loop continues.
func (c *connection) handleFrame(f *frame.Frame) bool {
	command := f.Command
	destination := f.Header.Get(HeaderDestination)
	receipt := f.Header.Get(HeaderReceipt)

	c.server.metrics.FrameReceived(command)
	c.logger.Infow("stomp frame", "command", command, "destination", destination)

	switch command {
	case string(domain.CommandConnect), string(domain.CommandStomp):
		c.fail(fmt.Errorf("%w: already connected", domain.ErrUnsupportedCommand), receipt)
		return false
	case string(domain.CommandDisconnect):
		if receipt != "" {
			c.send(outbound{frame: ReceiptFrame(receipt), closeAfter: true})
		}
		return false
	case CommandAck, CommandNack:
		// Subscriptions are auto-acknowledged.
		if receipt != "" {
			c.send(outbound{frame: ReceiptFrame(receipt)})
		}
		return true
	}

	ctx, span := tracing.TraceFrame(c.ctx, command, destination, string(c.id))
	_, err := c.server.broker.Route(ctx, ToDomain(f, c.id))
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	span.End()

	if err != nil {
		c.fail(err, receipt)
		return false
	}
	if receipt != "" {
		c.send(outbound{frame: ReceiptFrame(receipt)})
	}
	return true
}

// fail queues an ERROR frame; the writer closes the socket after sending it.
func (c *connection) fail(err error, receipt string) {
	appErr := apperrors.FromDomain(err)
	c.logger.Warnw("frame rejected", "code", appErr.Code, "error", err)
	c.send(outbound{frame: ErrorFrame(string(appErr.Code), appErr.Message, receipt), closeAfter: true})
}

func (c *connection) send(o outbound) {
	select {
	case c.control <- o:
	case <-c.writerDone:
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case o := <-c.control:
			if err := c.write(o.frame); err != nil || o.closeAfter {
				c.closeSocket(websocket.CloseNormalClosure, "")
				return
			}

		case msg := <-c.mailbox.Messages():
			if err := c.write(MessageFrame(msg)); err != nil {
				c.logger.Infow("write failed", "error", err)
				c.closeSocket(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.mailbox.Done():
			c.drainControl()
			if c.mailbox.Overflowed() {
				c.server.metrics.SlowConsumer()
				c.logger.Warnw("slow consumer, closing session", "outbox_size", c.server.cfg.OutboxSize)
				_ = c.write(ErrorFrame(string(apperrors.ErrCodeSlowConsumer), "outbound queue overflow", ""))
				c.closeSocket(websocket.ClosePolicyViolation, "slow consumer")
				return
			}
			c.closeSocket(websocket.CloseNormalClosure, "")
			return

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeSocket(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *connection) drainControl() {
	for {
		select {
		case o := <-c.control:
			if err := c.write(o.frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(f *frame.Frame) error {
	buf := encodeBuffers.Get()
	defer encodeBuffers.Put(buf)

	if err := EncodeTo(buf, f); err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// closeSocket sends a close frame (best effort) and closes the connection,
// which also ends the read loop.
func (c *connection) closeSocket(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.server.cfg.WriteTimeout)
		if code != websocket.CloseAbnormalClosure {
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		_ = c.ws.Close()
	})
}
