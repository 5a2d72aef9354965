// Package eventhandler models the instrumentation capability threaded
// through the engine (spec §9 "Polymorphism over event handler"): one
// operation per event, each (event, state) -> state. A no-op default lets
// the engine always call through without a nil check.
package eventhandler

// Kind enumerates the telemetry callbacks spec §6 names. Connection-level
// events (Init, ConnectStart, ConnectEnd, Disconnect, Terminate) and
// stream-level events share this enum; which struct fields of Event are
// populated depends on Kind.
type Kind int

const (
	Init Kind = iota
	ConnectStart
	ConnectEnd
	Disconnect
	Terminate

	RequestStart
	RequestHeaders
	RequestEnd

	ResponseStart
	ResponseInform
	ResponseHeaders
	ResponseTrailers
	ResponseEnd
)

func (k Kind) String() string {
	switch k {
	case Init:
		return "init"
	case ConnectStart:
		return "connect_start"
	case ConnectEnd:
		return "connect_end"
	case Disconnect:
		return "disconnect"
	case Terminate:
		return "terminate"
	case RequestStart:
		return "request_start"
	case RequestHeaders:
		return "request_headers"
	case RequestEnd:
		return "request_end"
	case ResponseStart:
		return "response_start"
	case ResponseInform:
		return "response_inform"
	case ResponseHeaders:
		return "response_headers"
	case ResponseTrailers:
		return "response_trailers"
	case ResponseEnd:
		return "response_end"
	default:
		return "unknown"
	}
}

// Event is the structured record passed to a Handler. Only the fields
// relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	// Stream identity, zero-value (empty string) for connection-level
	// events.
	Ref     string
	Method  string
	Status  int
	Headers [][2]string

	// Cause, populated for Terminate/Disconnect.
	Cause error
}

// Handler is the event-handler capability. Implementations must be
// non-blocking: callbacks run inline on the engine's single scheduling
// entity (spec §5).
type Handler[S any] interface {
	HandleEvent(evt Event, state S) S
}

// HandlerFunc adapts a plain function to Handler, mirroring the teacher's
// EventHandlerFunc adapter in h2/events.go.
type HandlerFunc[S any] func(evt Event, state S) S

func (f HandlerFunc[S]) HandleEvent(evt Event, state S) S { return f(evt, state) }

// Noop is the default handler: it returns state unchanged for every
// event, so the engine can always call through (spec §9).
func Noop[S any]() Handler[S] {
	return HandlerFunc[S](func(_ Event, state S) S { return state })
}

// chain fans one event out to every handler in order, threading state
// through each in turn. Mirrors the teacher's eventChain in h2/events.go,
// generalized from a fixed EventType slot to the generic capability here.
type chain[S any] struct {
	handlers []Handler[S]
}

func (c chain[S]) HandleEvent(evt Event, state S) S {
	for _, h := range c.handlers {
		state = h.HandleEvent(evt, state)
	}
	return state
}

// Chain combines multiple handlers into one, invoked in order.
func Chain[S any](handlers ...Handler[S]) Handler[S] {
	flat := make([]Handler[S], 0, len(handlers))
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if c, ok := h.(chain[S]); ok {
			flat = append(flat, c.handlers...)
			continue
		}
		flat = append(flat, h)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return chain[S]{handlers: flat}
}
