// Package server implements the compiler server: it accepts one request per
// connection on a local socket, runs the language's compiler through the
// middleware chain and answers with a single response.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → codec.ReadRequest → version check → keep-alive update
//	    → Middleware Chain → Compiler.Compile → codec.WriteResponse
//
// The server exits on its own once it has been idle (no open connection) for
// the keep-alive period. A negative keep-alive keeps it running forever.
package server

import (
	"buildpipe/codec"
	"buildpipe/message"
	"buildpipe/middleware"
	"buildpipe/protocol"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestReadTimeout bounds how long a connected client may take to
// send its request. A silent peer would otherwise hold off the idle exit.
const DefaultRequestReadTimeout = 30 * time.Second

// Compiler runs one compilation for a decoded request.
type Compiler interface {
	Compile(ctx context.Context, req *message.Request) *message.CompletedResponse
}

// Server is the compiler server.
type Server struct {
	compilers   map[message.Language]Compiler
	listener    net.Listener
	wg          sync.WaitGroup          // Tracks open connections for graceful shutdown
	shutdown    atomic.Bool             // Set during shutdown to suppress Accept errors
	closeOnce   sync.Once               // Guards listener.Close
	mu          sync.Mutex              // Guards listener
	middlewares []middleware.Middleware // Applied in the order they are added
	handler     middleware.HandlerFunc
	keepAlive   atomic.Int64 // Idle period in nanoseconds, negative = never exit
	active      atomic.Int32 // Open connections
	activity    chan struct{}
	done        chan struct{}
	readTimeout time.Duration
	log         *zap.Logger
}

// NewServer creates a server that exits after idle of inactivity until a
// client requests another keep-alive.
func NewServer(idle time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		compilers:   make(map[message.Language]Compiler),
		activity:    make(chan struct{}, 1),
		done:        make(chan struct{}),
		readTimeout: DefaultRequestReadTimeout,
		log:         log,
	}
	s.keepAlive.Store(int64(idle))
	return s
}

// Register installs the compiler used for lang.
func (s *Server) Register(lang message.Language, c Compiler) {
	s.compilers[lang] = c
}

// Use registers a middleware.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// SetRequestReadTimeout changes how long a client may take to send its request.
func (s *Server) SetRequestReadTimeout(d time.Duration) {
	s.readTimeout = d
}

// KeepAlive returns the current idle period.
func (s *Server) KeepAlive() time.Duration {
	return time.Duration(s.keepAlive.Load())
}

// Serve listens on the socket at address and handles connections until
// Shutdown, ctx cancellation or the idle period expires. A stale socket file
// left by a dead server is removed first.
func (s *Server) Serve(ctx context.Context, address string) error {
	if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", address)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	// Chain(A, B, C)(handler) → A(B(C(handler)))
	s.handler = middleware.Chain(s.middlewares...)(s.compile)

	s.log.Info("compiler server listening", zap.String("address", address), zap.Duration("keep_alive", s.KeepAlive()))

	go s.watchIdle()
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("server context cancelled")
			s.closeListener()
		case <-s.done:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			s.closeListener()
			return err
		}
		s.wg.Add(1)
		s.active.Add(1)
		s.notify()
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves exactly one request on conn.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.active.Add(-1)
		s.notify()
		s.wg.Done()
	}()

	f := protocol.NewFramer(conn, s.log)
	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.log.Warn("failed to set request deadline", zap.Error(err))
		return
	}
	req, err := codec.ReadRequest(f)
	if err != nil {
		s.log.Warn("failed to read request", zap.Error(err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	if req.ProtocolVersion != message.ProtocolVersion {
		s.log.Warn("client protocol version differs",
			zap.Int32("client_version", req.ProtocolVersion), zap.Int32("server_version", message.ProtocolVersion))
		if err := codec.WriteMismatchedVersion(f); err != nil {
			s.log.Warn("failed to write mismatched version reply", zap.Error(err))
		}
		return
	}

	s.applyKeepAlive(req)

	resp := s.handler(ctx, req)
	if err := codec.WriteResponse(f, resp); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

// applyKeepAlive adopts the keep-alive argument in seconds, if the request carries one.
func (s *Server) applyKeepAlive(req *message.Request) {
	value, ok := req.Lookup(message.KeepAlive)
	if !ok {
		return
	}
	seconds, err := strconv.ParseInt(value, 10, 32)
	if err != nil || seconds < -1 {
		s.log.Warn("ignoring invalid keep-alive", zap.String("value", value))
		return
	}
	idle := time.Duration(seconds) * time.Second
	if seconds < 0 {
		idle = -1
	}
	s.keepAlive.Store(int64(idle))
	s.log.Debug("keep-alive updated", zap.Duration("keep_alive", idle))
}

// compile is the innermost handler: it dispatches to the language's compiler.
func (s *Server) compile(ctx context.Context, req *message.Request) *message.CompletedResponse {
	c, ok := s.compilers[req.Language]
	if !ok {
		return middleware.Failure(fmt.Sprintf("compiler server has no compiler for language %s", req.Language))
	}
	return c.Compile(ctx, req)
}

func (s *Server) notify() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// watchIdle shuts the server down once no connection has been open for the
// keep-alive period.
func (s *Server) watchIdle() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	arm := func() {
		timer.Stop()
		if idle := s.KeepAlive(); idle >= 0 && s.active.Load() == 0 {
			timer.Reset(idle)
		}
	}
	arm()

	for {
		select {
		case <-s.activity:
			arm()
		case <-timer.C:
			if s.active.Load() != 0 {
				continue
			}
			s.log.Info("compiler server idle, shutting down", zap.Duration("keep_alive", s.KeepAlive()))
			s.closeListener()
			return
		case <-s.done:
			timer.Stop()
			return
		}
	}
}

func (s *Server) closeListener() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.shutdown.Store(true)
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight compilations to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	s.closeListener()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing compilations to finish")
	}
}
