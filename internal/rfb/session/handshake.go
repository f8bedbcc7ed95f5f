package session

import (
	"fmt"

	"github.com/breeze-rmm/rfbserver/internal/rfb/auth"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/rfberrors"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

const versionBanner = "RFB 003.008\n"

// handshake drives AwaitingVersion through AwaitingClientInit (spec.md
// §4.1). On any failure it returns a categorized error; the caller is
// responsible for logging and closing.
func (s *Session) handshake() error {
	if err := s.doVersion(); err != nil {
		return err
	}
	if err := s.doSecuritySelection(); err != nil {
		return err
	}
	if err := s.doClientInit(); err != nil {
		return err
	}
	return nil
}

func (s *Session) doVersion() error {
	if err := wire.WriteFull(s.conn, []byte(versionBanner)); err != nil {
		return fmt.Errorf("%w: writing version banner: %v", rfberrors.Transport, err)
	}
	s.setState(AwaitingSecuritySelection)

	buf := make([]byte, 12)
	if err := wire.ReadFull(s.r, buf); err != nil {
		return fmt.Errorf("%w: reading client version: %v", rfberrors.Transport, err)
	}

	var major, minor int
	if _, err := fmt.Sscanf(string(buf), "RFB %d.%d\n", &major, &minor); err != nil {
		// Malformed version line: proceed with an empty method list so the
		// next step fails cleanly (spec.md §4.1).
		s.client.VersionMajor, s.client.VersionMinor = 0, 0
		return nil
	}
	s.client.VersionMajor, s.client.VersionMinor = major, minor
	return nil
}

// offeredMethods returns the security methods this session advertises,
// given the client's parsed version. 3.8 is the only version this server
// negotiates; anything else gets an empty list, per spec.md §4.1's version
// handling.
func (s *Session) offeredMethods() []SecurityMethod {
	if s.client.VersionMajor != 3 || s.client.VersionMinor != 8 {
		return nil
	}
	if s.cfg.RequireAuth {
		return []SecurityMethod{SecurityVNC}
	}
	return []SecurityMethod{SecurityNone}
}

func (s *Session) doSecuritySelection() error {
	methods := s.offeredMethods()

	if err := wire.WriteU8(s.conn, uint8(len(methods))); err != nil {
		return fmt.Errorf("%w: writing security method count: %v", rfberrors.Transport, err)
	}
	for _, m := range methods {
		if err := wire.WriteU8(s.conn, uint8(m)); err != nil {
			return fmt.Errorf("%w: writing security method: %v", rfberrors.Transport, err)
		}
	}

	if len(methods) == 0 {
		return s.failSecurity("unsupported protocol version")
	}

	selected, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading selected security method: %v", rfberrors.Transport, err)
	}

	var chosen SecurityMethod
	ok := false
	for _, m := range methods {
		if uint8(m) == selected {
			chosen = m
			ok = true
			break
		}
	}
	if !ok {
		return s.failSecurity("security method not offered")
	}
	s.client.AuthMethod = chosen

	if chosen == SecurityVNC {
		s.setState(AwaitingAuth)
		return s.doAuth()
	}

	// SecurityNone: no SecurityResult failure string on success path, just
	// the 4-byte OK status (spec.md §4.1's AwaitingAuth step only applies
	// to the password method; None goes straight to the result).
	if err := wire.WriteU32(s.conn, 0); err != nil {
		return fmt.Errorf("%w: writing security result: %v", rfberrors.Transport, err)
	}
	s.setState(AwaitingClientInit)
	return nil
}

// failSecurity writes the AwaitingSecuritySelection failure reason: a bare
// length-prefixed string, with no preceding status word (spec.md §4.1's
// version/security failure path, unlike AwaitingAuth's, never sends a
// SecurityResult status here — the empty/rejected method list already told
// the client the negotiation failed).
func (s *Session) failSecurity(reason string) error {
	if err := wire.WriteString(s.conn, reason); err != nil {
		return fmt.Errorf("%w: writing security failure reason: %v", rfberrors.ProtocolViolation, err)
	}
	return fmt.Errorf("%w: %s", rfberrors.ProtocolViolation, reason)
}

func (s *Session) doAuth() error {
	if s.cfg.PasswordAuth == nil {
		return s.failAuth("server has no password configured")
	}

	challenge, err := s.cfg.PasswordAuth.GenerateChallenge()
	if err != nil {
		return fmt.Errorf("%w: generating auth challenge: %v", rfberrors.AuthFailure, err)
	}
	if err := wire.WriteFull(s.conn, challenge[:]); err != nil {
		return fmt.Errorf("%w: writing auth challenge: %v", rfberrors.Transport, err)
	}

	response := make([]byte, auth.ChallengeSize)
	if err := wire.ReadFull(s.r, response); err != nil {
		return fmt.Errorf("%w: reading auth response: %v", rfberrors.Transport, err)
	}
	defer zero(response)
	defer zero(challenge[:])

	ok, err := s.cfg.PasswordAuth.Verify(challenge, response)
	if err != nil {
		return fmt.Errorf("%w: verifying auth response: %v", rfberrors.AuthFailure, err)
	}

	if s.cfg.Listener.PasswordProvided != nil {
		s.cfg.Listener.PasswordProvided(PasswordProvidedEvent{IsAuthenticated: ok})
	}

	if !ok {
		return s.failAuth("authentication failed")
	}

	if err := wire.WriteU32(s.conn, 0); err != nil {
		return fmt.Errorf("%w: writing auth success status: %v", rfberrors.Transport, err)
	}
	s.setState(AwaitingClientInit)
	return nil
}

func (s *Session) failAuth(reason string) error {
	if err := wire.WriteU32(s.conn, 1); err != nil {
		return fmt.Errorf("%w: writing auth failure status: %v", rfberrors.AuthFailure, err)
	}
	if err := wire.WriteString(s.conn, reason); err != nil {
		return fmt.Errorf("%w: writing auth failure reason: %v", rfberrors.AuthFailure, err)
	}
	return fmt.Errorf("%w: %s", rfberrors.AuthFailure, reason)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (s *Session) doClientInit() error {
	shared, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading ClientInit: %v", rfberrors.Transport, err)
	}
	if s.cfg.Listener.CreatingDesktop != nil {
		s.cfg.Listener.CreatingDesktop(CreatingDesktopEvent{Shared: shared != 0})
	}

	if s.cfg.Capture == nil {
		return fmt.Errorf("%w: no capture source configured", rfberrors.SanityCheck)
	}
	captured, err := s.cfg.Capture.Capture()
	if err != nil {
		return fmt.Errorf("%w: initial capture: %v", rfberrors.SanityCheck, err)
	}
	if captured == nil || captured.Framebuffer == nil {
		return fmt.Errorf("%w: initial capture returned no framebuffer", rfberrors.SanityCheck)
	}
	fb := captured.Framebuffer

	s.fbuMu.Lock()
	s.currentFB = captured
	s.fbuMu.Unlock()

	s.client.PixelFormat = fb.PixelFormat()
	s.client.Width, s.client.Height = fb.Width(), fb.Height()

	if err := wire.WriteU16(s.conn, uint16(fb.Width())); err != nil {
		return fmt.Errorf("%w: writing ServerInit width: %v", rfberrors.Transport, err)
	}
	if err := wire.WriteU16(s.conn, uint16(fb.Height())); err != nil {
		return fmt.Errorf("%w: writing ServerInit height: %v", rfberrors.Transport, err)
	}
	if err := wire.WriteFull(s.conn, encodeFormat(fb.PixelFormat())); err != nil {
		return fmt.Errorf("%w: writing ServerInit pixel format: %v", rfberrors.Transport, err)
	}
	name := s.cfg.Name
	if name == "" {
		name = fb.Name()
	}
	if err := wire.WriteString(s.conn, name); err != nil {
		return fmt.Errorf("%w: writing ServerInit name: %v", rfberrors.Transport, err)
	}

	return nil
}

func encodeFormat(f pixfmt.PixelFormat) []byte {
	return f.Encode()
}
