package session

import (
	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
)

// Listener is a capability interface of optional, typed callbacks (spec.md
// §9: "a struct of optional callbacks... not reflection-based event
// buses"). Every field is nilable; Session checks for nil before calling.
// Grounded on the teacher's pattern of small, purpose-built callback structs
// (e.g. SessionManager.OnSASRequest) generalized from a single field to one
// per §4.1 event.
type Listener struct {
	// PasswordProvided fires once the client's VNC-auth response has been
	// verified (or rejected). Setting ev.IsAuthenticated has no effect; it
	// reports the outcome the session already decided.
	PasswordProvided func(ev PasswordProvidedEvent)

	// CreatingDesktop fires at AwaitingClientInit, before the first capture.
	CreatingDesktop func(ev CreatingDesktopEvent)

	// Connected fires once, when the session reaches Running.
	Connected func(ev ConnectedEvent)

	// ConnectionFailed fires if the session never reaches Running.
	ConnectionFailed func(ev ConnectionFailedEvent)

	// Closed fires exactly once, after Running, when the session tears down.
	Closed func(ev ClosedEvent)

	// FramebufferCapturing fires just before CaptureSource.Capture() is
	// invoked in the pump action.
	FramebufferCapturing func(ev FramebufferCapturingEvent)

	// FramebufferUpdating fires after capture, before the cache runs; a
	// listener may set ev.Handled to suppress the cache pass entirely,
	// returning ev.SentChanges as FramebufferSendChanges's result.
	FramebufferUpdating func(ev *FramebufferUpdatingEvent)

	KeyChanged             func(ev KeyChangedEvent)
	PointerChanged         func(ev PointerChangedEvent)
	RemoteClipboardChanged func(ev RemoteClipboardChangedEvent)
}

type PasswordProvidedEvent struct {
	IsAuthenticated bool
}

type CreatingDesktopEvent struct {
	Shared bool
}

type ConnectedEvent struct {
	ClientWidth, ClientHeight int
}

type ConnectionFailedEvent struct {
	Reason string
	Err    error
}

type ClosedEvent struct {
	Stats map[encoding.Code]encoding.Snapshot
}

type FramebufferCapturingEvent struct{}

// FramebufferUpdatingEvent is passed by pointer so a listener can set
// Handled/SentChanges to short-circuit the cache (spec.md §4.7 step 4).
type FramebufferUpdatingEvent struct {
	Framebuffer *framebuffer.Framebuffer
	Handled     bool
	SentChanges bool
}

type KeyChangedEvent struct {
	Keysym  uint32
	Pressed bool
}

type PointerChangedEvent struct {
	X, Y       int
	ButtonMask uint8
}

type RemoteClipboardChangedEvent struct {
	Text string
}
