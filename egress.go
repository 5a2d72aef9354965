package h2engine

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/costinm/h2engine/codec"
	"github.com/costinm/h2engine/eventhandler"
	"github.com/costinm/h2engine/machine"
	"github.com/costinm/h2engine/streamtable"
	"github.com/costinm/h2engine/transport"
)

// Headers allocates a new stream and sends request HEADERS with no body
// (spec §4.4.3 "headers"). The body, if any, follows via Data.
func (e *Engine[S]) Headers(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget, method, host string, port int, path string, headers [][2]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.quotaAvailable() {
		e.waiting = append(e.waiting, pendingCall{run: func(ctx context.Context) {
			e.sendHeaders(ctx, ref, replyTo, method, host, port, path, headers, false, nil)
		}})
		return ErrStreamQuotaExceeded
	}
	return e.sendHeaders(ctx, ref, replyTo, method, host, port, path, headers, false, nil)
}

// Request is Headers plus an immediately-enqueued body with fin=true and
// a content-length header computed from the body (spec §4.4.3
// "request").
func (e *Engine[S]) Request(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget, method, host string, port int, path string, headers [][2]string, body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.quotaAvailable() {
		e.waiting = append(e.waiting, pendingCall{run: func(ctx context.Context) {
			e.sendHeaders(ctx, ref, replyTo, method, host, port, path, headers, true, body)
		}})
		return ErrStreamQuotaExceeded
	}
	return e.sendHeaders(ctx, ref, replyTo, method, host, port, path, headers, true, body)
}

func (e *Engine[S]) sendHeaders(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget, method, host string, port int, path string, headers [][2]string, withBody bool, body []byte) error {
	clean, explicitHost := stripHopByHop(headers)
	kind := e.transport.Kind()
	auth := authority(explicitHost, host, port, transport.Scheme(kind))
	pseudo := pseudoHeaders(method, kind, auth, path)

	if withBody {
		clean = append(clean, [2]string{"content-length", strconv.Itoa(len(body))})
	}

	id := e.machine.InitStream()
	e.streams.Insert(&streamtable.Stream{ID: id, Ref: ref, ReplyTo: replyTo, Method: method})

	e.emitEvent(eventhandler.Event{Kind: eventhandler.RequestStart, Ref: ref.String(), Method: method})
	fin, block := e.machine.PrepareHeaders(id, false, pseudo, clean)
	if err := e.transport.Send(ctx, codec.EncodeHeaders(id, block, fin, e.machine.RemoteMaxFrameSize())); err != nil {
		return errors.Wrap(err, "h2engine: writing HEADERS")
	}
	e.emit(eventhandler.RequestHeaders, ref.String())

	if withBody {
		frames := e.machine.SendOrQueueData(id, true, body)
		return e.writeSendFrames(ctx, frames)
	}
	return nil
}

// Data enqueues a body chunk for ref (spec §4.4.3 "data").
func (e *Engine[S]) Data(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget, fin bool, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, ok := e.streams.ByRef(ref)
	if !ok {
		replyTo.Deliver(Message{Kind: MessageError, Ref: ref, Cause: &BadStateError{Text: "cannot be found"}})
		return &BadStateError{Text: "cannot be found"}
	}
	// spec §4.4.3 "data": badstate "already closed" if either half is
	// already fin/closed, not only the local (sending) half.
	if e.machine.GetStreamLocalState(row.ID) == machine.StateClosed ||
		e.machine.GetStreamRemoteState(row.ID) == machine.StateClosed {
		replyTo.Deliver(Message{Kind: MessageError, Ref: ref, Cause: &BadStateError{Text: "already closed"}})
		return &BadStateError{Text: "already closed"}
	}

	frames := e.machine.SendOrQueueData(row.ID, fin, payload)
	return e.writeSendFrames(ctx, frames)
}

// writeSendFrames serializes queued/unblocked DATA and emits request_end
// plus the end-of-life check once a stream's local half actually closes
// (spec §4.4.3, §4.4.4, §9 "Queueing"). Must be called with e.mu held.
func (e *Engine[S]) writeSendFrames(ctx context.Context, frames []machine.SendFrame) error {
	closedIDs := map[uint32]bool{}
	for _, f := range frames {
		if err := e.transport.Send(ctx, f.Bytes); err != nil {
			return errors.Wrap(err, "h2engine: writing DATA")
		}
		if f.Fin {
			closedIDs[f.StreamID] = true
		}
	}
	for id := range closedIDs {
		row, ok := e.streams.ByID(id)
		if !ok {
			continue
		}
		if e.machine.GetStreamLocalState(id) == machine.StateClosed {
			e.emit(eventhandler.RequestEnd, row.Ref.String())
			e.checkEndOfLife(id, row.Ref)
		}
	}
	return nil
}

// Trailers sends request trailing headers and closes the local side (spec
// §4.2 "prepare_trailers"). Rare on the client side outside of streaming
// RPC bodies, but part of the Machine's operation set regardless.
func (e *Engine[S]) Trailers(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget, trailers [][2]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, ok := e.streams.ByRef(ref)
	if !ok {
		replyTo.Deliver(Message{Kind: MessageError, Ref: ref, Cause: &BadStateError{Text: "cannot be found"}})
		return &BadStateError{Text: "cannot be found"}
	}
	if e.machine.GetStreamLocalState(row.ID) == machine.StateClosed {
		replyTo.Deliver(Message{Kind: MessageError, Ref: ref, Cause: &BadStateError{Text: "already closed"}})
		return &BadStateError{Text: "already closed"}
	}

	block := e.machine.PrepareTrailers(row.ID, trailers)
	if err := e.transport.Send(ctx, codec.EncodeHeaders(row.ID, block, true, e.machine.RemoteMaxFrameSize())); err != nil {
		return errors.Wrap(err, "h2engine: writing trailing HEADERS")
	}
	e.emit(eventhandler.RequestEnd, ref.String())
	e.checkEndOfLife(row.ID, row.Ref)
	return nil
}

// Cancel resets ref (spec §5 "Cancellation", §4.4.3 "cancel"). It is
// idempotent: on an unknown ref it only delivers a badstate error to
// replyTo and changes nothing.
func (e *Engine[S]) Cancel(ctx context.Context, ref streamtable.Ref, replyTo streamtable.ReplyTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, ok := e.streams.ByRef(ref)
	if !ok {
		replyTo.Deliver(Message{Kind: MessageError, Ref: ref, Cause: &BadStateError{Text: "cannot be found"}})
		return
	}
	e.machine.ResetStream(row.ID)
	_ = e.transport.Send(ctx, codec.EncodeRSTStream(row.ID, http2.ErrCodeCancel))
	e.streams.Delete(row.ID)
	e.machine.Forget(row.ID)
	e.retryWaiting(ctx)
}

// Keepalive sends PING with opaque payload 0 (spec §4.4.3 "keepalive").
func (e *Engine[S]) Keepalive(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingOutstanding = true
	return e.transport.Send(ctx, codec.EncodePing([8]byte{}, false))
}
