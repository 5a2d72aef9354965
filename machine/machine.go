// Package machine is the pure, side-effect-free Protocol Machine (spec
// §4.2): HPACK tables, SETTINGS, flow-control windows, stream local/
// remote half-states and the next stream id all live here. It never
// touches I/O — the Engine Loop is the only thing that reads or writes
// the transport; this package only turns codec.Frame values into events
// and turns outbound intents into codec.Frame-shaped byte strings.
//
// Grounded on the teacher's h2/h2_connection.go and h2/stream.go (the
// grpc-go-derived client transport this pack's h2 package forks), with
// the goroutine-per-connection/controlBuf machinery stripped out: spec
// §5 mandates a single-threaded cooperative actor, so what the teacher
// expresses with channels and a loopyWriter goroutine this package
// expresses as plain returned data the caller (engine) serializes.
package machine

import (
	"golang.org/x/net/http2"

	"github.com/costinm/h2engine/codec"
)

// State is one side (local or remote) of a stream's half-close state
// (spec glossary "Stream").
type State int

const (
	StateIdle State = iota
	StateOpen
	StateHalfClosed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHalfClosed:
		return "half_closed"
	default:
		return "closed"
	}
}

// Settings is the subset of HTTP/2 SETTINGS the engine cares about,
// mirroring the teacher's H2Config/ClientParameters knob bags in
// h2/stream.go, trimmed to what the Machine itself consults.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings matches the values golang.org/x/net/http2 and most
// servers assume absent an explicit SETTINGS frame.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           false, // client never enables server push of its own
		MaxConcurrentStreams: 0,     // 0 == unlimited until the peer says otherwise
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    0, // 0 == unbounded
	}
}

// stream is the Machine's private view of one stream; streamtable.Stream
// is the Engine/application-facing row. The two are correlated by id.
type stream struct {
	id uint32

	localClosed      bool
	remoteClosed     bool
	localHeadersSent bool // we've sent our own HEADERS at least once (local idle -> open)
	headersSeen      bool // any non-trailer HEADERS observed, informational or final (remote idle -> open)

	sendWindow int32 // our send credit, replenished by peer WINDOW_UPDATE
	queued     []queuedData
}

type queuedData struct {
	fin     bool
	payload []byte
}

// Machine is the Protocol Machine instance (spec §3 Engine State
// "machine"). All methods are value-returning in spirit (they describe a
// functional machine' successor state) but are implemented as mutating
// methods on *Machine for efficiency; the Engine Loop owns the only
// reference to any given Machine, so this does not violate spec §5's
// single-owner model.
type Machine struct {
	local  Settings
	remote Settings

	hpackEnc *hpackEncoder
	hpackDec *hpackDecoder

	nextStreamID uint32 // next client-initiated (odd) id
	lastPeerID   uint32 // highest id seen from the peer (pushes, GOAWAY)

	connSendWindow int32

	streams map[uint32]*stream
}

// Init builds a fresh Machine plus the bytes that open the connection:
// the client preface followed by an initial SETTINGS frame advertising
// local (spec §4.2 "init(role=client, opts) -> {preface_bytes, machine}").
func Init(local Settings) ([]byte, *Machine) {
	m := &Machine{
		local:          local,
		remote:         DefaultSettings(),
		hpackEnc:       newHPACKEncoder(local.HeaderTableSize),
		hpackDec:       newHPACKDecoder(local.HeaderTableSize),
		nextStreamID:   1,
		connSendWindow: int32(DefaultSettings().InitialWindowSize),
		streams:        make(map[uint32]*stream),
	}

	preface := append([]byte(nil), []byte(codec.ClientPreface)...)
	preface = append(preface, codec.EncodeSettings(settingsToWire(local))...)
	return preface, m
}

func settingsToWire(s Settings) []http2.Setting {
	out := []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: s.HeaderTableSize},
		{ID: http2.SettingInitialWindowSize, Val: s.InitialWindowSize},
		{ID: http2.SettingMaxFrameSize, Val: s.MaxFrameSize},
	}
	if s.MaxConcurrentStreams != 0 {
		out = append(out, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: s.MaxConcurrentStreams})
	}
	if s.MaxHeaderListSize != 0 {
		out = append(out, http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: s.MaxHeaderListSize})
	}
	if s.EnablePush {
		out = append(out, http2.Setting{ID: http2.SettingEnablePush, Val: 1})
	} else {
		out = append(out, http2.Setting{ID: http2.SettingEnablePush, Val: 0})
	}
	return out
}

// GetLocalSetting reports one of the engine's own advertised settings,
// e.g. max_frame_size for the codec (spec §4.2).
func (m *Machine) GetLocalSetting(name string) uint32 {
	switch name {
	case "max_frame_size":
		return m.local.MaxFrameSize
	case "header_table_size":
		return m.local.HeaderTableSize
	case "initial_window_size":
		return m.local.InitialWindowSize
	case "max_concurrent_streams":
		return m.local.MaxConcurrentStreams
	default:
		return 0
	}
}

// RemoteMaxConcurrentStreams reports the peer's advertised limit, or 0
// for "no limit advertised" (spec §12 stream-quota supplement).
func (m *Machine) RemoteMaxConcurrentStreams() uint32 { return m.remote.MaxConcurrentStreams }

// RemoteMaxFrameSize reports the largest frame the peer said it will
// accept; a sender must respect this, not its own advertised value.
func (m *Machine) RemoteMaxFrameSize() uint32 { return m.remoteMaxFrameSize() }

func (m *Machine) remoteMaxFrameSize() uint32 {
	if m.remote.MaxFrameSize == 0 {
		return DefaultSettings().MaxFrameSize
	}
	return m.remote.MaxFrameSize
}

// ActiveStreamCount reports how many streams the Machine is currently
// tracking, used by the engine to enforce MAX_CONCURRENT_STREAMS.
func (m *Machine) ActiveStreamCount() int { return len(m.streams) }

// InitStream assigns the next client-initiated (odd) stream id (spec
// §4.2 "init_stream").
func (m *Machine) InitStream() uint32 {
	id := m.nextStreamID
	m.nextStreamID += 2
	m.streams[id] = &stream{id: id, sendWindow: int32(m.remote.InitialWindowSize)}
	return id
}

// adoptPushStream registers a server-initiated (even) stream id, called
// when handling PUSH_PROMISE.
func (m *Machine) adoptPushStream(id uint32) {
	if id > m.lastPeerID {
		m.lastPeerID = id
	}
	// A push stream carries no local (client-to-server) half at all; the
	// client only ever receives on it.
	m.streams[id] = &stream{id: id, sendWindow: int32(m.remote.InitialWindowSize), localClosed: true}
}

// GetLastStreamID is used when composing GOAWAY (spec §4.2).
func (m *Machine) GetLastStreamID() uint32 { return m.lastPeerID }

// GetStreamLocalState / GetStreamRemoteState return this side's
// half-close state (spec §4.2, §4.4.4): idle before anything has been
// sent/received on that side, open once started, closed once that side
// has sent/received its terminal fin or reset.
func (m *Machine) GetStreamLocalState(id uint32) State {
	s, ok := m.streams[id]
	if !ok {
		return StateClosed
	}
	if s.localClosed {
		return StateClosed
	}
	if !s.localHeadersSent {
		return StateIdle
	}
	return StateOpen
}

func (m *Machine) GetStreamRemoteState(id uint32) State {
	s, ok := m.streams[id]
	if !ok {
		return StateClosed
	}
	if s.remoteClosed {
		return StateClosed
	}
	if !s.headersSeen {
		return StateIdle
	}
	return StateOpen
}

// Terminal reports whether both halves of the stream are fin/closed
// (spec §4.4.4 "a stream is deleted when both sides are terminal").
func (m *Machine) Terminal(id uint32) bool {
	s, ok := m.streams[id]
	if !ok {
		return true
	}
	return s.localClosed && s.remoteClosed
}

// Forget drops a stream's Machine-side bookkeeping, called by the engine
// once it has deleted the row from the Stream Table.
func (m *Machine) Forget(id uint32) { delete(m.streams, id) }

// ResetStream marks a stream locally reset (spec §4.2 "reset_stream").
func (m *Machine) ResetStream(id uint32) {
	s, ok := m.streams[id]
	if !ok {
		return
	}
	s.localClosed = true
	s.remoteClosed = true
}

// IgnoredFrame lets the Machine update bookkeeping even for frames the
// codec verdicts as ignore (spec §4.2); currently a no-op since
// CONTINUATION aggregation already happens inside the codec and
// PRIORITY carries no state this Machine tracks.
func (m *Machine) IgnoredFrame() {}
