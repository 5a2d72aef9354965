// Package h2engine is the client-side HTTP/2 protocol engine: the
// stateful shell that owns the transport, the Protocol Machine and the
// Stream Table (spec §2 "Engine Loop"). It is the only package in this
// module that performs I/O; codec and machine are pure, side-effect-free
// leaves it drives.
//
// Grounded on the teacher's h2/h2_connection.go (H2Transport/
// H2ClientTransport), which plays the same "owns transport + drives
// frames + dispatches events" role for a grpc-go-derived connection;
// here the goroutine-and-channel concurrency of that file is replaced by
// a single mutex-guarded actor per spec §5's single-threaded cooperative
// model.
package h2engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/costinm/h2engine/eventhandler"
	"github.com/costinm/h2engine/machine"
	"github.com/costinm/h2engine/streamtable"
	"github.com/costinm/h2engine/transport"
)

// Owner is the supervising process/identity notified of engine-wide
// failures (spec §3 Engine State "owner").
type Owner interface {
	EngineDown(err error)
}

// Action is the Engine's instruction back to its coordinator: whether
// the connection (and transport) should be torn down.
type Action int

const (
	ActionContinue Action = iota
	ActionClose
)

// Engine is the Engine Loop (spec §2, §3, §4.4). S is the event-handler
// state type threaded through every eventhandler.Handler callback (spec
// §9 "Polymorphism over event handler").
type Engine[S any] struct {
	mu sync.Mutex

	owner     Owner
	transport transport.Transport
	opts      Options
	machine   *machine.Machine
	streams   *streamtable.Table
	buffer    []byte
	log       zerolog.Logger

	handler      eventhandler.Handler[S]
	handlerState S

	keepaliveCancel context.CancelFunc
	keepaliveGroup  *errgroup.Group
	pingOutstanding bool

	lastGoAwayBoundary uint32
	goAwaySeen         bool
	down               bool

	waiting []pendingCall
}

// NewEngine constructs an Engine over an already-connected Transport (spec
// §3 "engine is created by the coordinator after transport handshake"),
// immediately writing the client preface plus initial SETTINGS (spec §3
// Lifecycle).
func NewEngine[S any](ctx context.Context, owner Owner, t transport.Transport, opts Options, log zerolog.Logger, handler eventhandler.Handler[S], initialState S) (*Engine[S], error) {
	if handler == nil {
		handler = eventhandler.Noop[S]()
	}
	preface, m := machine.Init(opts.Settings)

	e := &Engine[S]{
		owner:     owner,
		transport: t,
		opts:      opts,
		machine:   m,
		streams:   streamtable.New(),
		log:       log,
		handler:   handler,
	}

	e.handlerState = handler.HandleEvent(eventhandler.Event{Kind: eventhandler.Init}, initialState)
	e.handlerState = handler.HandleEvent(eventhandler.Event{Kind: eventhandler.ConnectStart}, e.handlerState)

	if err := t.Send(ctx, preface); err != nil {
		return nil, errors.Wrap(err, "h2engine: writing connection preface")
	}
	e.handlerState = handler.HandleEvent(eventhandler.Event{Kind: eventhandler.ConnectEnd}, e.handlerState)

	if opts.Keepalive > 0 {
		e.startKeepalive(ctx)
	}
	return e, nil
}

// StreamInfo returns the reply target and liveness of ref (spec §6
// "stream_info(ref)").
func (e *Engine[S]) StreamInfo(ref streamtable.Ref) (replyTo streamtable.ReplyTarget, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams.ByRef(ref)
	if !ok {
		return nil, false
	}
	return s.ReplyTo, true
}

// Down returns the refs of streams still live when the engine went down
// (spec §6 "down(state)").
func (e *Engine[S]) Down() []streamtable.Ref {
	e.mu.Lock()
	defer e.mu.Unlock()
	var refs []streamtable.Ref
	e.streams.Each(func(s *streamtable.Stream) bool {
		refs = append(refs, s.Ref)
		return true
	})
	return refs
}

// emit dispatches one telemetry event through the configured handler
// chain (spec §9 "Polymorphism over event handler"). Most call sites only
// need emit(kind, ref); richer events (RequestStart's Method,
// ResponseHeaders' Status, Terminate/Disconnect's Cause) build the Event
// value directly and call emitEvent.
func (e *Engine[S]) emit(kind eventhandler.Kind, ref string) {
	e.emitEvent(eventhandler.Event{Kind: kind, Ref: ref})
}

func (e *Engine[S]) emitEvent(evt eventhandler.Event) {
	e.handlerState = e.handler.HandleEvent(evt, e.handlerState)
}

func (e *Engine[S]) logFrameErr(where string, err error) {
	e.log.Debug().Err(err).Str("where", where).Msg("h2engine: frame error")
}
