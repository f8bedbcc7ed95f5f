package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/breeze-rmm/rfbserver/internal/logging"
	"github.com/breeze-rmm/rfbserver/internal/workerpool"
)

// Server accepts connections on a net.Listener (TCP or TLS — the caller's
// choice; this package has no opinion on transport security) and spawns one
// Session per connection, bounded by a workerpool.Pool the way the teacher
// bounds concurrent RMM command execution (internal/workerpool), repurposed
// here to bound concurrent RFB sessions instead.
type Server struct {
	ln   net.Listener
	pool *workerpool.Pool
	log  *slog.Logger

	newConfig func(conn net.Conn) Config

	mu       sync.Mutex
	sessions map[*Session]struct{}

	stopOnce sync.Once
	done     chan struct{}
}

// NewServer wraps ln. newConfig is called once per accepted connection to
// build that session's Config (letting the caller vary, e.g., whether auth
// is required, per listener or even per-connection policy).
func NewServer(ln net.Listener, maxSessions int, newConfig func(conn net.Conn) Config) *Server {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Server{
		ln:        ln,
		pool:      workerpool.New(maxSessions, maxSessions*2),
		log:       logging.L("rfb.server"),
		newConfig: newConfig,
		sessions:  make(map[*Session]struct{}),
		done:      make(chan struct{}),
	}
}

// Serve accepts connections until the listener closes or Shutdown is
// called. It always returns a non-nil error except on a clean Shutdown.
func (srv *Server) Serve() error {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			select {
			case <-srv.done:
				return nil
			default:
			}
			return err
		}

		accepted := srv.pool.Submit(func() {
			srv.handle(conn)
		})
		if !accepted {
			srv.log.Warn("session pool saturated, rejecting connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

func (srv *Server) handle(conn net.Conn) {
	sess := New(conn, srv.newConfig(conn))

	srv.mu.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, sess)
		srv.mu.Unlock()
	}()

	if err := sess.Connect(); err != nil && !errors.Is(err, net.ErrClosed) {
		srv.log.Info("session ended", "remote", conn.RemoteAddr(), "error", err)
	}
}

// Shutdown stops accepting new connections, closes every active session,
// and waits (up to the context deadline) for in-flight handlers to return.
func (srv *Server) Shutdown(ctx context.Context) error {
	var err error
	srv.stopOnce.Do(func() {
		close(srv.done)
		err = srv.ln.Close()

		srv.mu.Lock()
		sessions := make([]*Session, 0, len(srv.sessions))
		for s := range srv.sessions {
			sessions = append(sessions, s)
		}
		srv.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}

		srv.pool.StopAccepting()
		srv.pool.Drain(ctx)
	})
	return err
}

// activeSessions reports the current number of connected sessions.
func (srv *Server) activeSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}
