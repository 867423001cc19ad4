package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/messaging"
)

// Submitter queues a raw telegram for processing; messaging.Pool implements it
type Submitter interface {
	Submit(ctx context.Context, payload []byte, done messaging.DoneFunc) error
}

// Framer finds telegram boundaries in a byte stream. serialization.HeaderCodec
// implements it.
type Framer interface {
	PrefixWidth() int
	PeekLength(b []byte) (int, error)
	Width() int
	MaxLength() int
}

// Server accepts raw telegram streams. Telegrams carry no extra framing; the
// header length field delimits them. Replies are written back on the same
// connection, possibly out of order for telegrams with different keys.
type Server struct {
	submitter    Submitter
	framer       Framer
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// ServerOption configures the Server
type ServerOption func(*Server)

// WithReadTimeout closes connections idle for longer than timeout. Zero keeps
// them open indefinitely.
func WithReadTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = timeout
	}
}

// WithWriteTimeout bounds each reply write
func WithWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = timeout
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a TCP telegram server
func NewServer(framer Framer, submitter Submitter, options ...ServerOption) *Server {
	s := &Server{
		submitter:    submitter,
		framer:       framer,
		writeTimeout: 5 * time.Second,
		logger:       slog.Default(),
		conns:        make(map[net.Conn]struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// ListenAndServe listens on addr and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every open
// connection and waits for their readers to exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()

	s.logger.Info("tcp transport listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn reads telegrams from conn until it closes or a frame cannot be
// delimited. It closes conn before returning.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)
	w := &replyWriter{conn: conn, timeout: s.writeTimeout}

	logger.Debug("tcp connection opened")
	defer logger.Debug("tcp connection closed")

	for {
		frame, err := s.readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				logger.Warn("dropping tcp connection", "error", err)
			}
			return
		}

		err = s.submitter.Submit(ctx, frame, func(reply []byte, err error) {
			if err != nil && reply == nil {
				logger.Warn("telegram failed without reply", "code", contracts.ErrorCode(err), "error", err)
				return
			}
			if reply == nil {
				return
			}
			if werr := w.write(reply); werr != nil {
				logger.Warn("failed to write reply", "error", werr)
			}
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("failed to submit telegram", "error", err)
			}
			return
		}
	}
}

// readFrame reads one telegram. The length prefix is peeked first, then the
// rest of the telegram is read in full.
func (s *Server) readFrame(conn net.Conn) ([]byte, error) {
	if s.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, err
		}
	}

	prefix := make([]byte, s.framer.PrefixWidth())
	if _, err := io.ReadFull(conn, prefix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Reason: "stream ended inside telegram prefix", Err: err}
		}
		return nil, err
	}

	length, err := s.framer.PeekLength(prefix)
	if err != nil {
		return nil, &FramingError{Reason: "unreadable length field", Err: err}
	}
	if length < s.framer.Width() || length > s.framer.MaxLength() {
		return nil, &FramingError{Reason: fmt.Sprintf("length %d outside %d..%d", length, s.framer.Width(), s.framer.MaxLength())}
	}

	frame := make([]byte, length)
	copy(frame, prefix)
	if _, err := io.ReadFull(conn, frame[len(prefix):]); err != nil {
		return nil, &FramingError{Reason: "stream ended inside telegram", Err: err}
	}
	return frame, nil
}

func (s *Server) track(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// replyWriter serializes writes from concurrent workers onto one connection
type replyWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func (w *replyWriter) write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return err
		}
	}
	_, err := w.conn.Write(b)
	return err
}

// FramingError means the stream cannot be split into telegrams any more
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tcp framing: %s: %v", e.Reason, e.Err)
	}
	return "tcp framing: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}
