package h2engine

import (
	"context"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"

	"github.com/costinm/h2engine/codec"
	"github.com/costinm/h2engine/eventhandler"
	"github.com/costinm/h2engine/streamtable"
)

// Close delivers a {closed, "The connection was lost."} error to every
// live stream in stable iteration order (spec §4.4.5 "close"). Use this
// when the coordinator observed a transport failure rather than a
// protocol-level termination.
func (e *Engine[S]) Close(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked(reason)
}

func (e *Engine[S]) closeLocked(reason string) {
	if e.down {
		return
	}
	e.streams.Each(func(s *streamtable.Stream) bool {
		s.ReplyTo.Deliver(Message{Kind: MessageError, Ref: s.Ref, Cause: &StopError{
			Cause: "closed", Text: "The connection was lost.",
		}})
		return true
	})
	e.handlerState = e.handler.HandleEvent(eventhandler.Event{Kind: eventhandler.Disconnect, Cause: &StopError{Cause: "closed", Text: reason}}, e.handlerState)
	e.down = true
	e.stopKeepaliveLocked()
}

// Terminate sends GOAWAY carrying get_last_streamid and a reason derived
// from cause, then delivers {error, reply_to, cause} once per live
// stream (spec §4.4.5 "terminate"). The returned Action signals the
// coordinator to tear down the transport.
func (e *Engine[S]) Terminate(ctx context.Context, cause error) Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminateLocked(ctx, cause)
}

func (e *Engine[S]) terminateLocked(ctx context.Context, cause error) Action {
	if e.down {
		return ActionClose
	}
	_ = e.transport.Send(ctx, codec.EncodeGoAway(e.machine.GetLastStreamID(), reasonCodeFor(cause), nil))

	e.streams.Each(func(s *streamtable.Stream) bool {
		s.ReplyTo.Deliver(Message{Kind: MessageError, Ref: s.Ref, Cause: cause})
		return true
	})

	e.handlerState = e.handler.HandleEvent(eventhandler.Event{Kind: eventhandler.Terminate, Cause: cause}, e.handlerState)
	if e.owner != nil {
		e.owner.EngineDown(cause)
	}
	e.down = true
	e.stopKeepaliveLocked()
	return ActionClose
}

func reasonCodeFor(cause error) http2.ErrCode {
	switch c := cause.(type) {
	case *ConnectionError:
		// Codec reasons arrive as http2.ErrCode names ("FRAME_SIZE_ERROR"),
		// Machine reasons in lower case ("compression_error").
		switch strings.ToLower(c.Reason) {
		case "frame_size_error":
			return http2.ErrCodeFrameSize
		case "compression_error":
			return http2.ErrCodeCompression
		case "flow_control_error":
			return http2.ErrCodeFlowControl
		default:
			return http2.ErrCodeProtocol
		}
	case *StopError:
		return http2.ErrCodeNo
	default:
		return http2.ErrCodeInternal
	}
}

// startKeepalive runs the PING/PING-ACK keepalive ticker in its own
// goroutine, coordinated against the engine's lifetime via
// golang.org/x/sync/errgroup (grounded in echo/grpcecho/go.mod and
// urpc/go.mod's dependency on golang.org/x/sync). Fills the gap spec §9
// leaves open around what happens when a PING-ACK never arrives
// (SPEC_FULL §12): the engine terminates the connection with a
// keepalive_timeout connection error.
func (e *Engine[S]) startKeepalive(ctx context.Context) {
	kctx, cancel := context.WithCancel(ctx)
	e.keepaliveCancel = cancel
	g, gctx := errgroup.WithContext(kctx)
	e.keepaliveGroup = g

	g.Go(func() error {
		ticker := time.NewTicker(e.opts.Keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if e.tickKeepalive(gctx) {
					return nil
				}
			}
		}
	})
}

// tickKeepalive runs one keepalive interval's worth of work and reports
// whether the keepalive loop should stop.
func (e *Engine[S]) tickKeepalive(ctx context.Context) (stop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return true
	}
	if e.pingOutstanding {
		e.terminateLocked(ctx, &ConnectionError{
			Reason: "keepalive_timeout",
			Text:   "no PING ack within keepalive interval",
		})
		return true
	}
	e.pingOutstanding = true
	if err := e.transport.Send(ctx, codec.EncodePing([8]byte{}, false)); err != nil {
		return true
	}
	return false
}

func (e *Engine[S]) stopKeepaliveLocked() {
	if e.keepaliveCancel != nil {
		e.keepaliveCancel()
	}
}

// Wait blocks until the keepalive goroutine (if any) has exited. Useful
// for coordinators that want a clean shutdown handshake.
func (e *Engine[S]) Wait() error {
	if e.keepaliveGroup == nil {
		return nil
	}
	return e.keepaliveGroup.Wait()
}
