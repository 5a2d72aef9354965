package h2engine

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/costinm/h2engine/codec"
	"github.com/costinm/h2engine/eventhandler"
	"github.com/costinm/h2engine/streamtable"
	"github.com/costinm/h2engine/transport"
)

// fakeTransport is the in-memory Transport double engine tests build on
// (see transport.go's connTransport doc comment): it records every byte
// the engine writes without needing a live peer, so ingress scenarios can
// feed synthetic server bytes straight into Handle without racing a real
// net.Conn.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	kind   transport.Kind
	closed bool
}

func (f *fakeTransport) Send(_ context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}
func (f *fakeTransport) Kind() transport.Kind { return f.kind }
func (f *fakeTransport) Close() error         { f.closed = true; return nil }

func (f *fakeTransport) all() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, p := range f.sent {
		out = append(out, p...)
	}
	return out
}

// recordingTarget captures every Message delivered to it, in order.
type recordingTarget struct {
	mu  sync.Mutex
	got []Message
}

func (r *recordingTarget) Deliver(msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg.(Message))
}

func (r *recordingTarget) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...)
}

// recordingHandler captures every eventhandler.Event it sees.
type recordingHandler struct {
	mu   sync.Mutex
	seen []eventhandler.Event
}

func (h *recordingHandler) HandleEvent(evt eventhandler.Event, state int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, evt)
	return state
}

func (h *recordingHandler) kinds() []eventhandler.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []eventhandler.Kind
	for _, e := range h.seen {
		out = append(out, e.Kind)
	}
	return out
}

func newTestEngine(t *testing.T, handler eventhandler.Handler[int]) (*Engine[int], *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{kind: transport.Plain}
	opts, err := New(WithKeepalive(0))
	require.NoError(t, err)
	e, err := NewEngine[int](context.Background(), nil, tr, opts, zerolog.Nop(), handler, 0)
	require.NoError(t, err)
	return e, tr
}

func serverHeaderBlock(t *testing.T, fields ...hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	return buf.Bytes()
}

func TestNewWritesPrefaceAndInitialSettings(t *testing.T) {
	handler := &recordingHandler{}
	_, tr := newTestEngine(t, handler)

	sent := tr.all()
	require.True(t, len(sent) > len(codec.ClientPreface))
	require.Equal(t, codec.ClientPreface, string(sent[:len(codec.ClientPreface)]))

	kinds := handler.kinds()
	require.Contains(t, kinds, eventhandler.Init)
	require.Contains(t, kinds, eventhandler.ConnectStart)
	require.Contains(t, kinds, eventhandler.ConnectEnd)
}

func TestHeadersSendsRequestFrame(t *testing.T) {
	e, tr := newTestEngine(t, nil)
	ref := streamtable.NewRef()
	target := &recordingTarget{}

	err := e.Headers(context.Background(), ref, target, "GET", "example.com", 443, "/", nil)
	require.NoError(t, err)

	sent := tr.all()
	// Skip past the preface + client SETTINGS to reach the HEADERS frame.
	rest := sent[len(codec.ClientPreface):]
	r := codec.Parse(rest, 16384)
	require.Equal(t, codec.VerdictFrame, r.Kind)
	require.Equal(t, http2.FrameSettings, r.Frame.Type)

	r2 := codec.Parse(r.Rest, 16384)
	require.Equal(t, codec.VerdictFrame, r2.Kind)
	require.Equal(t, http2.FrameHeaders, r2.Frame.Type)
	require.EqualValues(t, 1, r2.Frame.StreamID)
	// Headers (unlike Request) never closes the local side itself: the
	// body, if any, follows via Data.
	require.False(t, r2.Frame.EndStream)
}

func TestResponseHeadersAndDataDeliverMessages(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ref := streamtable.NewRef()
	target := &recordingTarget{}
	require.NoError(t, e.Headers(context.Background(), ref, target, "GET", "example.com", 443, "/", nil))

	block := serverHeaderBlock(t, hpack.HeaderField{Name: ":status", Value: "200"})
	respHeaders := codec.EncodeHeaders(1, block, false, 16384)
	action, err := e.Handle(context.Background(), respHeaders)
	require.NoError(t, err)
	require.Equal(t, ActionContinue, action)

	dataFrame := codec.EncodeData(1, []byte("hello"), true)
	action, err = e.Handle(context.Background(), dataFrame)
	require.NoError(t, err)
	require.Equal(t, ActionContinue, action)

	msgs := target.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, MessageResponse, msgs[0].Kind)
	require.Equal(t, 200, msgs[0].Status)
	require.Equal(t, MessageData, msgs[1].Kind)
	require.Equal(t, []byte("hello"), msgs[1].Payload)
	require.True(t, msgs[1].Fin)
}

func TestInformationalHeadersDoNotDuplicateResponseStart(t *testing.T) {
	handler := &recordingHandler{}
	e, _ := newTestEngine(t, handler)
	ref := streamtable.NewRef()
	target := &recordingTarget{}
	require.NoError(t, e.Headers(context.Background(), ref, target, "GET", "example.com", 443, "/", nil))

	informBlock := serverHeaderBlock(t, hpack.HeaderField{Name: ":status", Value: "100"})
	_, err := e.Handle(context.Background(), codec.EncodeHeaders(1, informBlock, false, 16384))
	require.NoError(t, err)

	finalBlock := serverHeaderBlock(t, hpack.HeaderField{Name: ":status", Value: "204"})
	_, err = e.Handle(context.Background(), codec.EncodeHeaders(1, finalBlock, true, 16384))
	require.NoError(t, err)

	var starts int
	for _, k := range handler.kinds() {
		if k == eventhandler.ResponseStart {
			starts++
		}
	}
	require.Equal(t, 1, starts, "response_start must fire exactly once across a 1xx then final HEADERS")
	require.Contains(t, handler.kinds(), eventhandler.ResponseInform)
}

func TestGoAwayBeyondOurStreamsIsTerminal(t *testing.T) {
	handler := &recordingHandler{}
	e, _ := newTestEngine(t, handler)
	ref := streamtable.NewRef()
	target := &recordingTarget{}
	require.NoError(t, e.Headers(context.Background(), ref, target, "GET", "example.com", 443, "/", nil))

	// LastStreamID >= our only opened stream id: nothing of ours is
	// rejected, so this is a terminal GOAWAY (SPEC_FULL §12 two-phase
	// drain), not a narrowing one.
	goAway := codec.EncodeGoAway(1, http2.ErrCodeNo, nil)
	action, err := e.Handle(context.Background(), goAway)
	require.NoError(t, err)
	require.Equal(t, ActionClose, action)

	msgs := target.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, MessageError, msgs[0].Kind)
	require.Contains(t, handler.kinds(), eventhandler.Terminate)
}

func TestCancelDeliversBadStateForUnknownRef(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	target := &recordingTarget{}
	e.Cancel(context.Background(), streamtable.NewRef(), target)

	msgs := target.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, MessageError, msgs[0].Kind)
}
