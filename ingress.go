package h2engine

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/costinm/h2engine/codec"
	"github.com/costinm/h2engine/eventhandler"
	"github.com/costinm/h2engine/machine"
	"github.com/costinm/h2engine/streamtable"
)

// Handle is the ingress entry point (spec §4.4.1): bytes in, frames
// dispatched, a possible ActionClose signaling the coordinator to tear
// down the transport.
func (e *Engine[S]) Handle(ctx context.Context, data []byte) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buffer = append(e.buffer, data...)

	for {
		maxFrame := e.machine.GetLocalSetting("max_frame_size")
		result := codec.Parse(e.buffer, maxFrame)

		switch result.Kind {
		case codec.VerdictMore:
			return ActionContinue, nil

		case codec.VerdictIgnore:
			e.machine.IgnoredFrame()
			e.buffer = result.Rest
			continue

		case codec.VerdictStreamError:
			e.buffer = result.Rest
			e.failStream(ctx, result.StreamID, result.Reason.String(), result.Text)
			continue

		case codec.VerdictConnectionError:
			e.terminateLocked(ctx, &ConnectionError{Reason: result.Reason.String(), Text: result.Text})
			return ActionClose, nil

		case codec.VerdictFrame:
			e.buffer = result.Rest
			action, err := e.dispatchFrame(ctx, result.Frame)
			if action == ActionClose {
				return ActionClose, err
			}

		default:
			return ActionContinue, nil
		}
	}
}

func (e *Engine[S]) dispatchFrame(ctx context.Context, f codec.Frame) (Action, error) {
	if f.Type == http2.FrameHeaders {
		if row, ok := e.streams.ByID(f.StreamID); ok {
			if e.machine.GetStreamRemoteState(f.StreamID) == machine.StateIdle {
				e.emit(eventhandler.ResponseStart, row.Ref.String())
			}
		}
	}

	outcome := e.machine.Frame(f)

	if outcome.NeedsSettingsAck {
		if err := e.transport.Send(ctx, codec.EncodeSettingsAck()); err != nil {
			return ActionClose, errors.Wrap(err, "h2engine: writing SETTINGS ack")
		}
		e.retryWaiting(ctx)
	}
	if outcome.NeedsPingAck {
		if err := e.transport.Send(ctx, codec.EncodePing(outcome.PingData, true)); err != nil {
			return ActionClose, errors.Wrap(err, "h2engine: writing PING ack")
		}
	}
	if outcome.PingWasAck {
		e.pingOutstanding = false
	}

	switch outcome.Result.Kind {
	case machine.ResultOK:
		return ActionContinue, nil

	case machine.ResultSend:
		if err := e.writeSendFrames(ctx, outcome.Result.Send); err != nil {
			return ActionClose, err
		}
		return ActionContinue, nil

	case machine.ResultStreamError:
		e.failStream(ctx, outcome.Result.StreamID, outcome.Result.Reason, outcome.Result.Text)
		return ActionContinue, nil

	case machine.ResultConnectionError:
		e.terminateLocked(ctx, &ConnectionError{Reason: outcome.Result.Reason, Text: outcome.Result.Text})
		return ActionClose, nil

	case machine.ResultOKEvent:
		return e.dispatchEvent(ctx, outcome.Result.Event)
	}
	return ActionContinue, nil
}

func (e *Engine[S]) dispatchEvent(ctx context.Context, evt machine.Event) (Action, error) {
	switch evt.Kind {
	case machine.EventData:
		return e.onData(ctx, evt)
	case machine.EventHeaders:
		if evt.Status >= 100 && evt.Status < 200 {
			return e.onInformHeaders(evt)
		}
		return e.onFinalHeaders(evt)
	case machine.EventTrailers:
		return e.onTrailers(evt)
	case machine.EventRSTStream:
		return e.onRSTStream(evt)
	case machine.EventPushPromise:
		return e.onPushPromise(evt)
	case machine.EventGoAway:
		return e.onGoAway(ctx, evt)
	}
	return ActionContinue, nil
}

func (e *Engine[S]) onData(ctx context.Context, evt machine.Event) (Action, error) {
	row, ok := e.streams.ByID(evt.StreamID)
	if !ok {
		return ActionContinue, nil
	}
	if h, ok := row.HandlerState.(interface {
		HandleData(payload []byte, fin bool) error
	}); ok && h != nil {
		if err := h.HandleData(evt.Payload, evt.Fin); err != nil {
			e.failStream(ctx, row.ID, "content_handler", err.Error())
			return ActionContinue, nil
		}
	}
	row.ReplyTo.Deliver(Message{Kind: MessageData, Ref: row.Ref, Payload: evt.Payload, Fin: evt.Fin})

	if len(evt.Payload) > 0 {
		if err := e.transport.Send(ctx, codec.EncodeWindowUpdate(0, uint32(len(evt.Payload)))); err != nil {
			return ActionClose, err
		}
		if !evt.Fin {
			if err := e.transport.Send(ctx, codec.EncodeWindowUpdate(evt.StreamID, uint32(len(evt.Payload)))); err != nil {
				return ActionClose, err
			}
		}
	}
	if evt.Fin {
		e.emit(eventhandler.ResponseEnd, row.Ref.String())
	}
	e.checkEndOfLife(row.ID, row.Ref)
	return ActionContinue, nil
}

func (e *Engine[S]) onInformHeaders(evt machine.Event) (Action, error) {
	row, ok := e.streams.ByID(evt.StreamID)
	if !ok {
		return ActionContinue, nil
	}
	row.ReplyTo.Deliver(Message{Kind: MessageInform, Ref: row.Ref, Status: evt.Status, Headers: evt.Headers})
	e.emitEvent(eventhandler.Event{Kind: eventhandler.ResponseInform, Ref: row.Ref.String(), Status: evt.Status, Headers: evt.Headers})
	return ActionContinue, nil
}

func (e *Engine[S]) onFinalHeaders(evt machine.Event) (Action, error) {
	row, ok := e.streams.ByID(evt.StreamID)
	if !ok {
		return ActionContinue, nil
	}
	row.ReplyTo.Deliver(Message{Kind: MessageResponse, Ref: row.Ref, Fin: evt.Fin, Status: evt.Status, Headers: evt.Headers})
	e.emitEvent(eventhandler.Event{Kind: eventhandler.ResponseHeaders, Ref: row.Ref.String(), Status: evt.Status, Headers: evt.Headers})

	if evt.Fin {
		e.emit(eventhandler.ResponseEnd, row.Ref.String())
		row.HandlerState = nil
		e.streams.Update(row)
	} else {
		handler, err := e.opts.ContentHandlers.New(row.Method, evt.Headers)
		if err != nil {
			e.failStreamRow(row, "content_handler", err.Error())
			return ActionContinue, nil
		}
		row.HandlerState = handler
		e.streams.Update(row)
	}
	e.checkEndOfLife(row.ID, row.Ref)
	return ActionContinue, nil
}

func (e *Engine[S]) onTrailers(evt machine.Event) (Action, error) {
	row, ok := e.streams.ByID(evt.StreamID)
	if !ok {
		return ActionContinue, nil
	}
	row.ReplyTo.Deliver(Message{Kind: MessageTrailers, Ref: row.Ref, Headers: evt.Headers})
	e.emit(eventhandler.ResponseTrailers, row.Ref.String())
	e.emit(eventhandler.ResponseEnd, row.Ref.String())
	e.checkEndOfLife(row.ID, row.Ref)
	return ActionContinue, nil
}

func (e *Engine[S]) onRSTStream(evt machine.Event) (Action, error) {
	row, ok := e.streams.ByID(evt.StreamID)
	if !ok {
		return ActionContinue, nil
	}
	row.ReplyTo.Deliver(Message{Kind: MessageError, Ref: row.Ref, Cause: &StreamError{
		Ref: row.Ref.String(), Reason: evt.Reason, Text: "Stream reset by server.",
	}})
	e.streams.Delete(row.ID)
	e.machine.Forget(row.ID)
	e.retryWaiting(nil)
	return ActionContinue, nil
}

func (e *Engine[S]) onPushPromise(evt machine.Event) (Action, error) {
	parent, ok := e.streams.ByID(evt.ParentID)
	if !ok {
		return ActionContinue, nil
	}
	promisedRef := streamtable.NewRef()
	e.streams.Insert(&streamtable.Stream{
		ID:      evt.PromisedID,
		Ref:     promisedRef,
		ReplyTo: parent.ReplyTo,
		Method:  evt.Pseudo[":method"],
	})
	parent.ReplyTo.Deliver(Message{
		Kind: MessagePush, ParentRef: parent.Ref, PromisedRef: promisedRef,
		Method: evt.Pseudo[":method"], URI: absoluteURI(evt.Pseudo), Headers: evt.Headers,
	})
	return ActionContinue, nil
}

func (e *Engine[S]) onGoAway(ctx context.Context, evt machine.Event) (Action, error) {
	if !e.goAwaySeen || evt.LastStreamID < e.lastGoAwayBoundary {
		e.goAwaySeen = true
		e.lastGoAwayBoundary = evt.LastStreamID
	}

	if evt.LastStreamID >= e.highestOpenedByUs() {
		// Nothing of ours is being rejected: this is a terminal GOAWAY
		// (spec §8 S5).
		e.terminateLocked(ctx, &StopError{Cause: "stop", Text: "Server is going away."})
		return ActionClose, nil
	}

	// Two-phase drain (SPEC_FULL §12): narrow the boundary, fail only the
	// streams above it as retryable, keep the connection running.
	var toFail []uint32
	e.streams.Each(func(s *streamtable.Stream) bool {
		if s.ID%2 == 1 && s.ID > evt.LastStreamID {
			toFail = append(toFail, s.ID)
		}
		return true
	})
	for _, id := range toFail {
		row, ok := e.streams.ByID(id)
		if !ok {
			continue
		}
		row.ReplyTo.Deliver(Message{Kind: MessageError, Ref: row.Ref, Cause: &StopError{
			Cause: "unprocessed", Text: "Server is going away; safe to retry.",
		}})
		e.streams.Delete(id)
		e.machine.Forget(id)
	}
	return ActionContinue, nil
}

// checkEndOfLife implements spec §4.4.4: after any transition that sets
// a side to fin, consult the Machine for the other side; delete the
// stream once both are terminal.
func (e *Engine[S]) checkEndOfLife(id uint32, ref streamtable.Ref) {
	if e.machine.Terminal(id) {
		e.streams.Delete(id)
		e.machine.Forget(id)
		e.retryWaiting(nil)
	}
}

func (e *Engine[S]) failStream(ctx context.Context, id uint32, reason, text string) {
	row, ok := e.streams.ByID(id)
	if !ok {
		return
	}
	_ = e.transport.Send(ctx, codec.EncodeRSTStream(id, http2.ErrCodeProtocol))
	e.failStreamRow(row, reason, text)
}

func (e *Engine[S]) failStreamRow(row *streamtable.Stream, reason, text string) {
	row.ReplyTo.Deliver(Message{Kind: MessageError, Ref: row.Ref, Cause: &StreamError{
		Ref: row.Ref.String(), Reason: reason, Text: text,
	}})
	e.streams.Delete(row.ID)
	e.machine.Forget(row.ID)
	e.retryWaiting(nil)
}

func (e *Engine[S]) highestOpenedByUs() uint32 {
	var max uint32
	e.streams.Each(func(s *streamtable.Stream) bool {
		if s.ID%2 == 1 && s.ID > max {
			max = s.ID
		}
		return true
	})
	return max
}
