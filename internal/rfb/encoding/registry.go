package encoding

import "sync"

// Registry holds the server's available encoders, keyed by Code, and
// implements the selection policy from spec.md §4.6: when the client sends
// SetEncodings, pick the first client-listed encoding for which the server
// has a registered encoder, falling back to Raw if none match. Grounded on
// the teacher's hardwareFactories registration pattern in
// internal/remote/desktop/encoder.go, simplified from a priority list of
// factories to a code-keyed map since RFB encoding selection is driven by
// the client's preference order, not server probing.
type Registry struct {
	mu       sync.RWMutex
	encoders map[Code]Encoder
	raw      Encoder
}

// NewRegistry builds a registry pre-populated with Raw and CopyRect, the two
// encodings this core ships (spec.md §4.6).
func NewRegistry() *Registry {
	raw := NewRaw()
	r := &Registry{
		encoders: make(map[Code]Encoder),
		raw:      raw,
	}
	r.Register(raw)
	r.Register(NewCopyRect())
	return r
}

// Register adds or replaces an encoder under its own Code. Additional
// encodings (Tight, ZRLE, Hextile) plug in here without touching the
// session.
func (r *Registry) Register(e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[e.Code()] = e
}

// Lookup returns the encoder registered for code, if any.
func (r *Registry) Lookup(code Code) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[code]
	return e, ok
}

// Select walks clientEncodings in the client's preference order and returns
// the first one with a registered encoder, falling back to Raw. CopyRect is
// never returned here: it carries no pixel data and is only ever emitted
// when the cache itself has detected a move (cache.Responder.ManualCopyRegion),
// never as a stand-in encoder for an arbitrary invalidated rectangle.
func (r *Registry) Select(clientEncodings []Code) Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, code := range clientEncodings {
		if code == CopyRect {
			continue
		}
		if e, ok := r.encoders[code]; ok {
			return e
		}
	}
	return r.raw
}

// Supports reports whether code is in clientEncodings, used by the cache to
// decide whether a move hint can become CopyRect or must fall back to a raw
// invalidation (spec.md §4.5).
func Supports(clientEncodings []Code, code Code) bool {
	for _, c := range clientEncodings {
		if c == code {
			return true
		}
	}
	return false
}
