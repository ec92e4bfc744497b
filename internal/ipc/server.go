package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/focushist/internal/history"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/scope"
)

// DefaultRequestTimeout bounds how long a connection may take to deliver its request
const DefaultRequestTimeout = 2 * time.Second

// Navigator moves through focus history on behalf of the server
type Navigator interface {
	Navigate(ctx context.Context, cmd Command) (history.FocusEvent, error)
}

// Server accepts one-shot traversal requests on a unix socket
type Server struct {
	path    string
	outputs scope.Set
	nav     Navigator
	timeout time.Duration

	// OnResponse, when set, observes every response sent
	OnResponse func(Request, Response)

	mu       sync.Mutex
	listener net.Listener
	bound    os.FileInfo
	conns    sync.WaitGroup
	closed   bool
}

// NewServer creates a server for the given socket path and configured outputs
func NewServer(path string, outputs scope.Set, nav Navigator, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Server{
		path:    path,
		outputs: outputs,
		nav:     nav,
		timeout: timeout,
	}
}

// Path returns the socket path
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket. A stale socket left by another instance is
// replaced; any other file at the path is an error.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(s.path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	st, err := os.Lstat(s.path)
	if err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("stat socket: %w", err)
	}
	// Close unlinks the path itself, only if it is still ours
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}

	s.mu.Lock()
	s.listener = ln
	s.bound = st
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until Close is called or ctx is done
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("serve: socket not bound")
	}

	log := logger.WithComponent("ipc-server")
	log.Info().Str("socket", s.path).Str("outputs", s.outputs.String()).Msg("Listening for focus navigation")

	stop := context.AfterFunc(ctx, func() {
		s.Close() //nolint:errcheck
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close() //nolint:errcheck
			return nil
		}
		s.conns.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.conns.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serveConn handles exactly one request on conn
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logger.WithComponent("ipc-server")

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		log.Debug().Err(err).Msg("Failed to set connection deadline")
		return
	}

	line, err := readLine(bufio.NewReaderSize(conn, 4096))
	if err != nil {
		log.Debug().Err(err).Msg("Dropping connection without a complete request")
		return
	}

	var (
		req  Request
		resp Response
	)
	if err := json.Unmarshal(line, &req); err != nil {
		resp = Response{Status: StatusError, Error: fmt.Sprintf("malformed request: %v", err)}
	} else {
		resp = s.Handle(ctx, req)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		return
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		log.Debug().Err(err).Msg("Client went away before the response was written")
	}
	if s.OnResponse != nil {
		s.OnResponse(req, resp)
	}
}

// Handle validates req against the configured outputs and performs the traversal
func (s *Server) Handle(ctx context.Context, req Request) Response {
	log := logger.WithComponent("ipc-server")

	cmd, err := ParseCommand(string(req.Command))
	if err != nil {
		return Response{Status: StatusError, Error: err.Error()}
	}

	declared := scope.New(req.Outputs...)
	if !declared.Equal(s.outputs) {
		log.Info().
			Str("declared", declared.String()).
			Str("configured", s.outputs.String()).
			Msg("Rejecting request for a different output set")
		return Response{Status: StatusScopeMismatch, Error: ErrScopeMismatch.Error()}
	}

	ev, err := s.nav.Navigate(ctx, cmd)
	switch {
	case errors.Is(err, history.ErrNoMoreHistory):
		log.Debug().Str("command", string(cmd)).Msg("No focus history item available")
		return Response{Status: StatusNoHistory}
	case err != nil:
		log.Warn().Err(err).Str("command", string(cmd)).Msg("Navigation failed")
		return Response{Status: StatusError, Error: err.Error()}
	}

	log.Info().Str("command", string(cmd)).Str("window", ev.WindowID).Msg("Moved focus history cursor")
	return Response{Status: StatusOK, WindowID: ev.WindowID}
}

// Close stops accepting, waits for in-flight connections and removes the
// socket file if no newer instance has replaced it
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	bound := s.bound
	s.mu.Unlock()

	if ln == nil {
		return nil
	}

	var errs []error
	if err := ln.Close(); err != nil {
		errs = append(errs, err)
	}
	s.conns.Wait()

	if st, err := os.Lstat(s.path); err == nil && bound != nil && os.SameFile(st, bound) {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
