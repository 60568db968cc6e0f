package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"overai/internal/workerutil"
)

const (
	defaultConnTimeout        = 30 * time.Second
	maxRequestBytes           = 64 * 1024
	maxResponseBytes          = 256 * 1024
	defaultMaxConcurrentConns = 16
	connSlotAcquireTimeout    = 5 * time.Second
)

// Server accepts control connections on an endpoint and hands each request
// to a Handler.
type Server struct {
	endpoint string
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer constructs a Server. An empty endpoint means DefaultEndpoint("").
func NewServer(endpoint string, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if endpoint == "" {
		endpoint = DefaultEndpoint("")
	}
	return &Server{
		endpoint:  endpoint,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, defaultMaxConcurrentConns),
	}
}

// Endpoint returns the socket path or pipe name.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Start begins listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc server already started")
	}
	if s.handler == nil {
		return errors.New("ipc server requires a handler")
	}
	listener, err := listen(s.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.endpoint, err)
	}
	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[ipc] control server listening", "endpoint", s.endpoint)
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[ipc] failed to close listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	cleanupEndpoint(s.endpoint)
	return nil
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors > 10 {
				slog.Warn("[ipc] accept loop: repeated failures", "error", err, "count", consecutiveErrors)
				time.Sleep(500 * time.Millisecond)
			} else {
				slog.Debug("[ipc] accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		if !s.acquireConnectionSlot() {
			writeResponse(conn, Response{Message: "server busy, try again later"})
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[ipc] failed to close rejected connection", "error", closeErr)
			}
			continue
		}

		s.wg.Go(func() {
			defer s.releaseConnectionSlot()
			if workerutil.RecoverTask("ipc-connection", func() { s.handleConnection(conn) }) {
				_ = conn.Close()
			}
		})
	}
}

// handleConnection serves one request. The whole exchange must finish within
// defaultConnTimeout.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, maxRequestBytes+1)
	raw, err := readFrame(reader, maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without sending data")
		return
	}
	if err != nil {
		writeResponse(conn, Fail(fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
		return
	}
	req, err := decodeRequest(raw)
	if err != nil {
		writeResponse(conn, Fail(err))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, defaultConnTimeout)
	defer cancel()
	writeResponse(conn, s.handler.Execute(ctx, req))
}

func writeResponse(conn net.Conn, resp Response) {
	raw, err := encodeResponse(resp)
	if err != nil {
		slog.Warn("[ipc] failed to encode response", "error", err)
		raw = []byte(`{"ok":false,"message":"internal encode error"}`)
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

// readFrame reads one newline-terminated frame. A final frame without the
// delimiter is accepted at EOF.
func readFrame(reader *bufio.Reader, maxBytes int) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Server) acquireConnectionSlot() bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[ipc] connection slots exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseConnectionSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[ipc] releaseConnectionSlot: no slot to release")
	}
}
