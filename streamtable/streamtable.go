// Package streamtable is the ordered collection of active streams keyed
// by both the numeric wire id and the opaque application ref (spec §4.3).
// It is a pure data structure; the Engine Loop is the only caller.
package streamtable

import (
	"github.com/google/uuid"
)

// Ref is the opaque, caller-chosen (or, for server push, engine-minted)
// stream handle the application sees. google/uuid gives us a comparable,
// zero-collision-in-practice value usable directly as a map key, grounded
// in the teacher's hboned/go.mod and urpc/go.mod dependency on
// google/uuid for exactly this kind of correlation id.
type Ref = uuid.UUID

// NewRef mints a fresh ref. The engine calls this itself only when
// handling PUSH_PROMISE (spec §4.4.2); every other stream's ref is
// supplied by the caller.
func NewRef() Ref { return uuid.New() }

// Stream is one row of the table (spec §3).
type Stream struct {
	ID      uint32
	Ref     Ref
	ReplyTo ReplyTarget

	// Method is the request's :method pseudo-header, kept around so the
	// response-side content_handlers factory (spec §4.4.2) can dispatch
	// on it without re-reading the request HEADERS.
	Method string

	// HandlerState holds the body-decoder state once response headers
	// have been observed and body is still expected; nil before headers
	// and after end-of-stream (spec §3).
	HandlerState interface{}
}

// ReplyTarget is the identity that receives application messages for a
// stream (spec §6 glossary). Deliver must be fire-and-forget: spec §5
// requires that sends never block the engine.
type ReplyTarget interface {
	Deliver(msg interface{})
}

// Table is the Stream Table. Build one with New; the zero value has nil
// indexes and Insert on it panics. Not safe for
// concurrent use — the Engine Loop is a single-threaded cooperative actor
// and is the table's only caller (spec §5).
type Table struct {
	order   []uint32 // stable iteration order, by insertion
	byID    map[uint32]*Stream
	byRef   map[Ref]*Stream
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		byID:  make(map[uint32]*Stream),
		byRef: make(map[Ref]*Stream),
	}
}

// Insert adds s to the table. Insertion order is not semantically
// meaningful but iteration order must be stable (spec §4.3).
func (t *Table) Insert(s *Stream) {
	if _, exists := t.byID[s.ID]; exists {
		t.Delete(s.ID)
	}
	t.order = append(t.order, s.ID)
	t.byID[s.ID] = s
	t.byRef[s.Ref] = s
}

// ByID looks up a stream by its wire id.
func (t *Table) ByID(id uint32) (*Stream, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// ByRef looks up a stream by its opaque application ref.
func (t *Table) ByRef(ref Ref) (*Stream, bool) {
	s, ok := t.byRef[ref]
	return s, ok
}

// Update replaces the element with equal id (spec §4.3). No-op if id is
// not present.
func (t *Table) Update(s *Stream) {
	if _, exists := t.byID[s.ID]; !exists {
		return
	}
	t.byID[s.ID] = s
	t.byRef[s.Ref] = s
}

// Delete removes the stream with the given id, if present.
func (t *Table) Delete(id uint32) {
	s, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	delete(t.byRef, s.Ref)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live streams.
func (t *Table) Len() int { return len(t.order) }

// Each iterates streams in stable insertion order, required for
// deterministic shutdown messaging (spec §4.3, §4.4.5). Stops early if fn
// returns false.
func (t *Table) Each(fn func(*Stream) bool) {
	for _, id := range t.order {
		s, ok := t.byID[id]
		if !ok {
			continue
		}
		if !fn(s) {
			return
		}
	}
}
