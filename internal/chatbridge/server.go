package chatbridge

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"overai/internal/llm"
	"overai/internal/workerutil"
)

const (
	writeDeadline = 5 * time.Second
	// readDeadline allows about three missed pings.
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second
	// maxReadMessageSize fits a chat history of maxHistory turns.
	maxReadMessageSize = 256 * 1024
	sendQueueSize      = 32
	shutdownTimeout    = 5 * time.Second
)

//go:embed assets/chat.html
var assets embed.FS

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     sameOrigin,
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
}

// sameOrigin accepts upgrades from the page this server serves. Any website
// open in a browser could otherwise reach a localhost socket. The Host header
// must name a loopback address so a rebound DNS name cannot pose as the page.
func sameOrigin(r *http.Request) bool {
	if !loopbackHost(r.Host) {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// loopbackHost reports whether a host[:port] value names this machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Backend answers chat page requests.
type Backend interface {
	Models(ctx context.Context) ([]string, error)
	Services() []llm.ServiceInfo
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
	APIChat(ctx context.Context, serviceID, model, message string) (string, error)
}

// Runner runs work off the read goroutine and delivers done on the event
// loop. llm.Dispatcher implements it.
type Runner interface {
	Go(name string, work func(ctx context.Context) (string, error), done func(string, error))
}

// Options configures the Server.
type Options struct {
	// Addr is the listen address. Empty means 127.0.0.1 on an OS-assigned port.
	Addr string
	// MessagesPerSecond limits inbound frames per connection. Zero disables
	// the limit.
	MessagesPerSecond float64
	// Metrics mounts the Prometheus handler on /metrics.
	Metrics bool
	Backend Backend
	Runner  Runner
}

// Server serves the chat page to a single web view. A new websocket
// connection replaces the previous one so page reloads work.
type Server struct {
	opts         Options
	pingInterval time.Duration

	mu      sync.Mutex
	current *client

	listener net.Listener
	server   *http.Server
	baseURL  string
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

// NewServer validates opts. The server does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Backend == nil || opts.Runner == nil {
		return nil, errors.New("chatbridge: backend and runner are required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Server{opts: opts, pingInterval: pingInterval}, nil
}

// Start listens and serves until Stop. ctx becomes the base context of
// request handlers.
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return errors.New("chatbridge: already started")
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("chatbridge: listen: %w", err)
	}
	s.listener = ln
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", ln.Addr().(*net.TCPAddr).Port)

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.wg.Go(func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[DEBUG-WS] chat bridge server error", "error", serveErr)
		}
	})
	slog.Info("[DEBUG-WS] chat bridge started", "url", s.ChatURL())
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/chat", http.StatusFound)
	})
	mux.HandleFunc("GET /chat", s.handleChatPage)
	mux.HandleFunc("/ws", s.handleWS)
	if s.opts.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return requireLoopbackHost(mux)
}

// requireLoopbackHost rejects requests whose Host header is not a loopback
// name. Browsers send the attacker's name after a DNS rebind.
func requireLoopbackHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) {
			slog.Warn("[DEBUG-WS] rejected request with foreign host", "host", r.Host, "path", r.URL.Path)
			http.Error(w, "forbidden host", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	page, err := assets.ReadFile("assets/chat.html")
	if err != nil {
		http.Error(w, "chat page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(page)
}

// Stop closes the connection and shuts the HTTP server down. Idempotent.
func (s *Server) Stop() error {
	var stopErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		c := s.current
		s.current = nil
		s.mu.Unlock()
		if c != nil {
			c.close("server stop")
		}
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("chatbridge: shutdown: %w", err)
			}
		}
		s.wg.Wait()
		metricConnected.Set(0)
		slog.Info("[DEBUG-WS] chat bridge stopped")
	})
	return stopErr
}

// ChatURL is the page the content view loads for the local target. Empty
// before Start.
func (s *Server) ChatURL() string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/chat"
}

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	if s.baseURL == "" {
		return ""
	}
	return "ws" + s.baseURL[len("http"):] + "/ws"
}

// HasActiveConnection reports whether the chat page is connected.
func (s *Server) HasActiveConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Server) newLimiter() *rate.Limiter {
	mps := s.opts.MessagesPerSecond
	if mps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(mps), max(1, int(math.Ceil(mps))))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		_ = conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		limiter: s.newLimiter(),
	}

	s.mu.Lock()
	old := s.current
	s.current = c
	s.mu.Unlock()
	if old != nil {
		old.close("replaced by new connection")
	}
	metricConnected.Set(1)
	slog.Info("[DEBUG-WS] chat page connected", "remoteAddr", conn.RemoteAddr())

	s.wg.Go(func() {
		workerutil.RecoverTask("chatbridge-write", func() { s.writePump(c) })
		c.close("write pump exit")
	})

	defer func() {
		c.close("read pump exit")
		s.mu.Lock()
		if s.current == c {
			s.current = nil
			metricConnected.Set(0)
		}
		s.mu.Unlock()
		slog.Info("[DEBUG-WS] chat page disconnected")
	}()
	workerutil.RecoverTask("chatbridge-read", func() { s.readPump(c) })
}

func (s *Server) readPump(c *client) {
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-WS] read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			s.sendError(c, "", "rate limit exceeded, slow down")
			continue
		}
		msg, err := decodeClientMsg(raw)
		if err != nil {
			slog.Debug("[DEBUG-WS] rejected client message", "error", err)
			s.sendError(c, msg.ID, err.Error())
			continue
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *client, msg clientMsg) {
	metricRequests.WithLabelValues(msg.Type).Inc()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	id := msg.ID

	switch msg.Type {
	case typeModels:
		var models []string
		s.opts.Runner.Go("chat-models", func(ctx context.Context) (string, error) {
			var err error
			models, err = s.opts.Backend.Models(ctx)
			return "", err
		}, func(_ string, err error) {
			if err != nil {
				s.sendError(c, id, fmt.Sprintf("local models unavailable: %v", err))
				models = nil
			}
			if models == nil {
				models = []string{}
			}
			s.send(c, modelsMsg{Type: typeModels, Models: models, Services: s.opts.Backend.Services()})
		})
	case typeChat:
		s.opts.Runner.Go("chat-local", func(ctx context.Context) (string, error) {
			return s.opts.Backend.Chat(ctx, msg.Model, msg.Messages)
		}, s.replyTo(c, id))
	case typeAPIChat:
		s.opts.Runner.Go("chat-api", func(ctx context.Context) (string, error) {
			return s.opts.Backend.APIChat(ctx, msg.Service, msg.Model, msg.Message)
		}, s.replyTo(c, id))
	}
}

// replyTo answers on the connection that asked. A reloaded page never sees
// replies meant for its predecessor.
func (s *Server) replyTo(c *client, id string) func(string, error) {
	return func(content string, err error) {
		if err != nil {
			s.sendError(c, id, err.Error())
			return
		}
		s.send(c, replyMsg{Type: typeReply, ID: id, Content: content})
	}
}

func (s *Server) sendError(c *client, id, message string) {
	metricErrors.Inc()
	s.send(c, errorMsg{Type: typeError, ID: id, Message: message})
}

// send never blocks: it is called from the event loop.
func (s *Server) send(c *client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Debug("[DEBUG-WS] failed to marshal frame", "error", err)
		return
	}
	select {
	case <-c.done:
		slog.Debug("[DEBUG-WS] frame dropped: connection closed")
	case c.send <- payload:
	default:
		slog.Warn("[DEBUG-WS] send queue full, closing connection")
		c.close("send queue full")
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if !c.write(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetWriteDeadline failed, closing connection", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		slog.Debug("[DEBUG-WS] write failed, closing connection", "error", err)
		return false
	}
	return true
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			slog.Debug("[DEBUG-WS] connection close", "reason", reason, "error", err)
		}
	})
}
