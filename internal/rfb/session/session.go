// Package session implements the RFB protocol state machine and the
// Session type that owns one client connection end to end (spec.md §4.1).
// Grounded on the teacher's Session (internal/remote/desktop/session.go):
// the done-channel/stopOnce/cleanupOnce shutdown discipline survives, with
// an RWMutex-guarded protocol state in place of an active flag; the
// WebRTC/H264 machinery it guarded is replaced with the RFB wire stream, cache, encoder registry, and pump.
package session

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/breeze-rmm/rfbserver/internal/logging"
	"github.com/breeze-rmm/rfbserver/internal/rfb/auth"
	"github.com/breeze-rmm/rfbserver/internal/rfb/cache"
	"github.com/breeze-rmm/rfbserver/internal/rfb/captransport"
	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pump"
	"github.com/breeze-rmm/rfbserver/internal/rfb/rfberrors"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// State is the protocol state machine's current position (spec.md §4.1).
type State int

const (
	AwaitingVersion State = iota
	AwaitingSecuritySelection
	AwaitingAuth
	AwaitingClientInit
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingVersion:
		return "AwaitingVersion"
	case AwaitingSecuritySelection:
		return "AwaitingSecuritySelection"
	case AwaitingAuth:
		return "AwaitingAuth"
	case AwaitingClientInit:
		return "AwaitingClientInit"
	case Running:
		return "Running"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SecurityMethod codes (spec.md §6).
type SecurityMethod uint8

const (
	SecurityNone SecurityMethod = 1
	SecurityVNC  SecurityMethod = 2
)

// ClientState is everything the session has learned about the connected
// client (spec.md §3).
type ClientState struct {
	VersionMajor, VersionMinor int
	AuthMethod                 SecurityMethod
	SupportedEncodings         []encoding.Code // ordered by client preference
	PixelFormat                pixfmt.PixelFormat
	Width, Height              int
	SelectedEncoder            encoding.Encoder
}

// Config bundles the collaborators and policy a Session needs at
// construction (spec.md's "host-visible contracts"). Name, RequireAuth and
// MaxFrameRateHz are ambient config (internal/config), passed through here
// rather than read globally so Session has no hidden dependency on viper.
type Config struct {
	Name           string
	RequireAuth    bool
	PasswordAuth   *auth.PasswordChallenge
	MaxFrameRateHz float64
	Capture        captransport.CaptureSource
	Listener       Listener
}

// Session owns one client connection from handshake through teardown. All
// stream writes are serialized by streamLock; the message loop is the sole
// reader. FramebufferUpdateRequestLock guards the pending request, the
// current framebuffer reference, and the rectangle queue (spec.md §5's
// lock-order: FramebufferUpdateRequestLock -> framebuffer.SyncRoot ->
// streamLock).
type Session struct {
	id   string
	conn io.ReadWriteCloser
	r    *bufio.Reader

	cfg Config
	log *slog.Logger

	streamLock sync.Mutex

	stateMu sync.RWMutex
	state   State

	client ClientState

	registry *encoding.Registry
	stats    *encoding.StatsByEncoding
	cacheEng *cache.Cache
	pump     *pump.Pump

	fbuMu           sync.Mutex // FramebufferUpdateRequestLock
	pending         *framebuffer.UpdateRequest
	currentFB       *framebuffer.CapturedFramebuffer
	lastIncremental bool
	rectQueue       []queuedRect

	done        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
	reachedRun  bool
}

type queuedRect struct {
	region   framebuffer.Rectangle
	code     encoding.Code
	contents []byte // nil for CopyRect, where srcX/srcY carry the payload
	srcX     int
	srcY     int
}

// New constructs a Session bound to conn. Connect must be called to drive
// the handshake and message loop.
func New(conn io.ReadWriteCloser, cfg Config) *Session {
	if cfg.MaxFrameRateHz <= 0 {
		cfg.MaxFrameRateHz = 15
	}
	reg := encoding.NewRegistry()
	id := uuid.NewString()

	s := &Session{
		id:       id,
		conn:     conn,
		r:        bufio.NewReader(conn),
		cfg:      cfg,
		log:      logging.L("rfb.session").With("sessionId", id),
		state:    AwaitingVersion,
		registry: reg,
		stats:    encoding.NewStatsByEncoding(),
		cacheEng: cache.New(),
		done:     make(chan struct{}),
	}
	return s
}

// ID returns the session's unique identifier, used to correlate log lines
// and listener callbacks for a single connection across its lifetime.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// State returns the session's current protocol state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connect drives the handshake to completion and, on success, runs the
// Running-state message loop until the connection closes or a protocol
// violation occurs. It always returns once the session has terminated.
func (s *Session) Connect() error {
	err := s.handshake()
	if err != nil {
		s.fireConnectionFailed(err)
		s.closeWithReason(err)
		return err
	}

	s.reachedRun = true
	s.setState(Running)
	if s.cfg.Listener.Connected != nil {
		s.cfg.Listener.Connected(ConnectedEvent{ClientWidth: s.client.Width, ClientHeight: s.client.Height})
	}

	s.pump = pump.New(func() (bool, error) {
		return s.FramebufferSendChanges()
	}, s.cfg.MaxFrameRateHz, func(err error) {
		s.log.Warn("pump action error", "error", err)
		if rfberrors.Closes(err) {
			s.closeWithReason(err)
		}
	})
	s.pump.Start(false)

	loopErr := s.runLoop()
	s.closeWithReason(loopErr)
	return loopErr
}

func (s *Session) fireConnectionFailed(err error) {
	if s.cfg.Listener.ConnectionFailed != nil {
		s.cfg.Listener.ConnectionFailed(ConnectionFailedEvent{Reason: err.Error(), Err: err})
	}
}

// closeWithReason transitions to Closed, stops the pump, closes the
// transport, and fires Closed exactly once if Running was ever reached.
func (s *Session) closeWithReason(reason error) {
	s.stopOnce.Do(func() {
		s.setState(Closed)
		close(s.done)

		if s.pump != nil {
			s.pump.Stop()
		}
		_ = s.conn.Close()

		s.cleanup(reason)
	})
}

func (s *Session) cleanup(reason error) {
	s.cleanupOnce.Do(func() {
		if reason != nil {
			s.log.Info("session closed", "reason", reason, "stats", s.stats.Snapshot())
		} else {
			s.log.Info("session closed", "stats", s.stats.Snapshot())
		}

		if s.reachedRun && s.cfg.Listener.Closed != nil {
			s.cfg.Listener.Closed(ClosedEvent{Stats: s.stats.Snapshot()})
		}
	})
}

// Close terminates the session from outside the message loop (e.g. server
// shutdown). Idempotent.
func (s *Session) Close() {
	s.closeWithReason(nil)
}

// Bell writes the Bell server->client message (opcode 2, no payload),
// serialized against any in-flight FramebufferUpdate by streamLock (spec.md
// §8 scenario 6).
func (s *Session) Bell() error {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	_, err := s.conn.Write([]byte{2})
	if err != nil {
		return fmt.Errorf("%w: writing Bell: %v", rfberrors.Transport, err)
	}
	return nil
}

// ServerCutText writes the ServerCutText message (opcode 3).
func (s *Session) ServerCutText(text string) error {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if _, err := s.conn.Write([]byte{3, 0, 0, 0}); err != nil {
		return fmt.Errorf("%w: writing ServerCutText header: %v", rfberrors.Transport, err)
	}
	if err := wire.WriteString(s.conn, text); err != nil {
		return fmt.Errorf("%w: writing ServerCutText body: %v", rfberrors.Transport, err)
	}
	return nil
}
