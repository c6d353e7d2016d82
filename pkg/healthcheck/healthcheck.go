// Package healthcheck exposes the readiness of the accounting daemon over a
// unix socket: clients connect and get a single ReadyMsg byte once the
// engine is up.
package healthcheck

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

const ReadyMsg = 0x01

var (
	ErrTimeout   = errors.New("timeout waiting for readiness")
	ErrNotSocket = errors.New("path exists but is not a unix socket")
)

type Server struct {
	ln         net.Listener
	readyCh    chan struct{}
	readyOnce  sync.Once
	socketPath string
	logger     log.Logger
}

func NewServer(socketPath string, logger log.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		readyCh:    make(chan struct{}),
		logger:     logger.With().Str("component", "healthcheck").Logger(),
	}
}

// Listen creates the socket and serves connections until ctx is done or the
// server is shut down.
func (s *Server) Listen(ctx context.Context) error {
	// A stale socket of a previous run.
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.socketPath)
	}
	s.ln = ln

	go s.accept(ctx)

	return nil
}

// NotifyReady marks the daemon ready. Connections waiting are answered.
func (s *Server) NotifyReady() {
	s.readyOnce.Do(func() {
		s.logger.Debug().Msg("marking readiness")
		close(s.readyCh)
	})
}

// Shutdown closes the listener and removes the socket.
func (s *Server) Shutdown() error {
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove socket")
	}

	return nil
}

func (s *Server) accept(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	select {
	case <-s.readyCh:
		if !s.alive(conn) {
			return
		}
		if _, err := conn.Write([]byte{ReadyMsg}); err != nil &&
			!errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
			s.logger.Debug().Err(err).Msg("failed to write readiness")
		}
	case <-ctx.Done():
	}
}

// alive tells whether the peer is still connected. A zero deadline read
// returns immediately.
func (s *Server) alive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now())
	if _, err := conn.Read([]byte{}); err == io.EOF {
		s.logger.Debug().Msg("peer closed before readiness")
		return false
	}
	conn.SetReadDeadline(time.Time{})

	return true
}

// WaitReady polls socketPath until the server answers ready, ctx is done or
// timeout elapses.
func WaitReady(ctx context.Context, socketPath string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		ok, err := probe(socketPath, interval)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func probe(socketPath string, interval time.Duration) (bool, error) {
	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check socket")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return false, errors.Wrap(ErrNotSocket, socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, interval)
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return false, errors.Wrap(err, "failed connecting")
		}
		return false, nil
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(interval))
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false, nil
	}

	return buf[0] == ReadyMsg, nil
}
