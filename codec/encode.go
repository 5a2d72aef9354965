package codec

import (
	"bytes"

	"golang.org/x/net/http2"
)

// framer returns a fresh encode-only Framer over an internal buffer; the
// Framer type itself carries no state we need to preserve between calls,
// so a new one per call keeps this package stateless.
func framer() (*http2.Framer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return http2.NewFramer(buf, nil), buf
}

// EncodeSettings serializes a non-ack SETTINGS frame.
func EncodeSettings(settings []http2.Setting) []byte {
	fr, buf := framer()
	_ = fr.WriteSettings(settings...)
	return buf.Bytes()
}

// EncodeSettingsAck serializes a SETTINGS frame with the ACK flag.
func EncodeSettingsAck() []byte {
	fr, buf := framer()
	_ = fr.WriteSettingsAck()
	return buf.Bytes()
}

// EncodePing serializes a PING frame, optionally with the ACK flag.
func EncodePing(data [8]byte, ack bool) []byte {
	fr, buf := framer()
	_ = fr.WritePing(ack, data)
	return buf.Bytes()
}

// EncodeWindowUpdate serializes a WINDOW_UPDATE frame. streamID 0 credits
// the connection window.
func EncodeWindowUpdate(streamID, increment uint32) []byte {
	fr, buf := framer()
	_ = fr.WriteWindowUpdate(streamID, increment)
	return buf.Bytes()
}

// EncodeHeaders serializes HEADERS for headerBlock, splitting across
// CONTINUATION frames when the block exceeds maxFrameSize (spec §4.1:
// "continuation is the codec's concern").
func EncodeHeaders(streamID uint32, headerBlock []byte, endStream bool, maxFrameSize uint32) []byte {
	fr, buf := framer()
	first := headerBlock
	var rest []byte
	endHeaders := true
	if uint32(len(headerBlock)) > maxFrameSize {
		first = headerBlock[:maxFrameSize]
		rest = headerBlock[maxFrameSize:]
		endHeaders = false
	}
	_ = fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    endHeaders,
	})
	for len(rest) > 0 {
		chunk := rest
		last := true
		if uint32(len(chunk)) > maxFrameSize {
			chunk = rest[:maxFrameSize]
			last = false
		}
		_ = fr.WriteContinuation(streamID, last, chunk)
		rest = rest[len(chunk):]
	}
	return buf.Bytes()
}

// EncodeData serializes a single DATA frame. Callers (the Protocol
// Machine) are responsible for chunking a payload to the negotiated
// max_frame_size and to available flow-control windows before calling
// this.
func EncodeData(streamID uint32, payload []byte, endStream bool) []byte {
	fr, buf := framer()
	_ = fr.WriteData(streamID, endStream, payload)
	return buf.Bytes()
}

// EncodeRSTStream serializes RST_STREAM with the given error code.
func EncodeRSTStream(streamID uint32, code http2.ErrCode) []byte {
	fr, buf := framer()
	_ = fr.WriteRSTStream(streamID, code)
	return buf.Bytes()
}

// EncodeGoAway serializes GOAWAY.
func EncodeGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) []byte {
	fr, buf := framer()
	_ = fr.WriteGoAway(lastStreamID, code, debugData)
	return buf.Bytes()
}

// ClientPreface is the mandatory client connection preface (spec §3
// glossary "Preface"), copied verbatim from the HTTP/2 spec via
// golang.org/x/net/http2's exported constant.
const ClientPreface = http2.ClientPreface
