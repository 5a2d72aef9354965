package machine

import (
	"golang.org/x/net/http2"

	"github.com/costinm/h2engine/codec"
)

// FrameOutcome is what Machine.Frame reports beyond the plain
// {ok}|{ok,event}|{send}|{error} shapes: PING/SETTINGS acks the engine
// must write, which spec §4.4.2 says never surface as application
// events but which the engine still needs to act on.
type FrameOutcome struct {
	Result FrameResult

	NeedsSettingsAck bool
	NeedsPingAck     bool
	PingData         [8]byte
	PingWasAck       bool // true if this was itself an ack (clears keepalive timer, spec §12)
}

// Frame consumes one decoded frame and returns the resulting event, if
// any, plus any newly-unblocked outbound DATA (spec §4.2 "frame").
func (m *Machine) Frame(f codec.Frame) FrameOutcome {
	switch f.Type {
	case http2.FrameSettings:
		if f.SettingsAck {
			return FrameOutcome{Result: FrameResult{Kind: ResultOK}}
		}
		m.applySettings(f.Settings)
		return FrameOutcome{Result: FrameResult{Kind: ResultOK}, NeedsSettingsAck: true}

	case http2.FramePing:
		if f.PingAck {
			return FrameOutcome{Result: FrameResult{Kind: ResultOK}, PingWasAck: true, PingData: f.PingData}
		}
		return FrameOutcome{Result: FrameResult{Kind: ResultOK}, NeedsPingAck: true, PingData: f.PingData}

	case http2.FrameWindowUpdate:
		var sends []SendFrame
		if f.StreamID == 0 {
			sends = m.UpdateWindow(f.Increment)
		} else {
			sends = m.UpdateStreamWindow(f.StreamID, f.Increment)
		}
		if len(sends) == 0 {
			return FrameOutcome{Result: FrameResult{Kind: ResultOK}}
		}
		return FrameOutcome{Result: FrameResult{Kind: ResultSend, Send: sends}}

	case http2.FrameRSTStream:
		s, ok := m.streams[f.StreamID]
		if !ok {
			return FrameOutcome{Result: FrameResult{Kind: ResultOK}}
		}
		s.localClosed = true
		s.remoteClosed = true
		return FrameOutcome{Result: FrameResult{
			Kind: ResultOKEvent,
			Event: Event{
				Kind: EventRSTStream, StreamID: f.StreamID,
				Reason: f.ErrCode.String(),
			},
		}}

	case http2.FrameGoAway:
		return FrameOutcome{Result: FrameResult{
			Kind: ResultOKEvent,
			Event: Event{
				Kind: EventGoAway, LastStreamID: f.LastStreamID,
				Reason: f.ErrCode.String(), Debug: string(f.DebugData),
			},
		}}

	case http2.FrameHeaders:
		return FrameOutcome{Result: m.handleHeaders(f)}

	case http2.FramePushPromise:
		return FrameOutcome{Result: m.handlePushPromise(f)}

	case http2.FrameData:
		return FrameOutcome{Result: m.handleData(f)}

	default:
		return FrameOutcome{Result: FrameResult{Kind: ResultOK}}
	}
}

func (m *Machine) applySettings(settings []http2.Setting) {
	for _, s := range settings {
		switch s.ID {
		case http2.SettingHeaderTableSize:
			m.remote.HeaderTableSize = s.Val
			m.hpackEnc.enc.SetMaxDynamicTableSize(s.Val)
		case http2.SettingEnablePush:
			m.remote.EnablePush = s.Val != 0
		case http2.SettingMaxConcurrentStreams:
			m.remote.MaxConcurrentStreams = s.Val
		case http2.SettingInitialWindowSize:
			delta := int32(s.Val) - int32(m.remote.InitialWindowSize)
			m.remote.InitialWindowSize = s.Val
			for _, st := range m.streams {
				st.sendWindow += delta
			}
		case http2.SettingMaxFrameSize:
			m.remote.MaxFrameSize = s.Val
		case http2.SettingMaxHeaderListSize:
			m.remote.MaxHeaderListSize = s.Val
		}
	}
}

func (m *Machine) handleData(f codec.Frame) FrameResult {
	s, ok := m.streams[f.StreamID]
	if !ok {
		return FrameResult{Kind: ResultStreamError, StreamID: f.StreamID, Reason: "stream_closed", Text: "DATA on unknown stream"}
	}
	if f.EndStream {
		s.remoteClosed = true
	}
	return FrameResult{
		Kind: ResultOKEvent,
		Event: Event{
			Kind: EventData, StreamID: f.StreamID, Fin: f.EndStream,
			Payload: f.Data,
		},
	}
}

func (m *Machine) handleHeaders(f codec.Frame) FrameResult {
	s, ok := m.streams[f.StreamID]
	if !ok {
		return FrameResult{Kind: ResultStreamError, StreamID: f.StreamID, Reason: "stream_closed", Text: "HEADERS on unknown stream"}
	}

	pseudo, headers, err := m.hpackDec.decode(f.HeaderBlock)
	if err != nil {
		return FrameResult{Kind: ResultConnectionError, Reason: "compression_error", Text: err.Error()}
	}

	if _, isStatus := pseudo[":status"]; !isStatus {
		// No :status pseudo-header: this HEADERS frame carries trailers.
		s.remoteClosed = true
		return FrameResult{
			Kind: ResultOKEvent,
			Event: Event{
				Kind: EventTrailers, StreamID: f.StreamID, Fin: true,
				Headers: headers, Pseudo: pseudo,
			},
		}
	}

	status := decodeStatus(pseudo)
	s.headersSeen = true
	if f.EndStream {
		s.remoteClosed = true
	}
	return FrameResult{
		Kind: ResultOKEvent,
		Event: Event{
			Kind: EventHeaders, StreamID: f.StreamID, Fin: f.EndStream,
			Pseudo: pseudo, Headers: headers, Status: status,
		},
	}
}

func (m *Machine) handlePushPromise(f codec.Frame) FrameResult {
	pseudo, headers, err := m.hpackDec.decode(f.HeaderBlock)
	if err != nil {
		return FrameResult{Kind: ResultConnectionError, Reason: "compression_error", Text: err.Error()}
	}
	m.adoptPushStream(f.PromisedID)
	return FrameResult{
		Kind: ResultOKEvent,
		Event: Event{
			Kind: EventPushPromise, ParentID: f.StreamID, PromisedID: f.PromisedID,
			Pseudo: pseudo, Headers: headers,
		},
	}
}
