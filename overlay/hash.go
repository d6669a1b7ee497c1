// Package overlay provides the keyed entity store and the generic
// diff/reconcile engine that keeps an external renderer synchronized
// with a desired overlay set.
package overlay

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// Hasher accumulates a 32-bit base-31 polynomial hash over state
// attributes. Per-field sub-hashes and the accumulation follow the JVM
// hashCode conventions (string: UTF-16 code units, bool: 1231/1237,
// float64: folded IEEE bits) so that ids and fingerprints computed here
// match the sibling Android SDK bit-for-bit. Overflow wraps at 32 bits.
type Hasher struct {
	acc uint32
}

// NewHasher returns a hasher seeded with 1, matching Objects.hash.
func NewHasher() *Hasher {
	return &Hasher{acc: 1}
}

// Sum returns the accumulated hash.
func (h *Hasher) Sum() uint32 {
	return h.acc
}

// combine folds one field hash into the accumulator.
func (h *Hasher) combine(v uint32) {
	h.acc = h.acc*31 + v
}

// Int folds a signed integer, truncated to 32 bits.
func (h *Hasher) Int(v int) {
	h.combine(uint32(int32(v)))
}

// Bool folds a boolean as 1231/1237.
func (h *Hasher) Bool(v bool) {
	if v {
		h.combine(1231)
	} else {
		h.combine(1237)
	}
}

// Float folds a float64 as the xor-fold of its IEEE-754 bits. NaN is
// canonicalized first so all NaN payloads hash alike.
func (h *Hasher) Float(v float64) {
	bits := math.Float64bits(v)
	if v != v {
		bits = 0x7ff8000000000000
	}
	h.combine(uint32(bits>>32) ^ uint32(bits))
}

// String folds a string as its base-31 polynomial over UTF-16 code
// units.
func (h *Hasher) String(s string) {
	var sum uint32
	for _, u := range utf16.Encode([]rune(s)) {
		sum = sum*31 + uint32(u)
	}
	h.combine(sum)
}

// Color folds an ARGB color as its packed 32-bit value.
func (h *Hasher) Color(c Color) {
	h.combine(uint32(c))
}

// LatLng folds a geographic position as latitude then longitude then
// altitude.
func (h *Hasher) LatLng(lat, lng, alt float64) {
	h.Float(lat)
	h.Float(lng)
	h.Float(alt)
}

// Color is a packed ARGB color value.
type Color uint32

// ARGB packs channel bytes into a Color.
func ARGB(a, r, g, b uint8) Color {
	return Color(uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// Fingerprint digests the public attributes of a state. Fingerprints
// detect no-op updates: two states with equal fingerprints never reach
// the renderer twice.
func Fingerprint(s State) uint32 {
	h := NewHasher()
	s.AppendHash(h)
	return h.Sum()
}

// StateID returns the identity of a state: the caller-supplied id when
// present, otherwise one derived deterministically from the state's
// kind and content, so two independently constructed but
// attribute-identical states collide to the same id.
func StateID(s State) string {
	if id := s.OverlayID(); id != "" {
		return id
	}
	h := NewHasher()
	h.String(s.Kind())
	s.AppendHash(h)
	return fmt.Sprintf("%s:%08x", s.Kind(), h.Sum())
}
