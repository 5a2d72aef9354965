package codec

import (
	"bytes"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

func TestParseMoreOnShortBuffer(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x00, 0x00},
		{0x00, 0x00, 0x04, byte(http2.FramePing), 0x00, 0, 0, 0, 0},
	}
	for i, buf := range cases {
		r := Parse(buf, 16384)
		if r.Kind != VerdictMore {
			t.Fatalf("case %d: want VerdictMore, got %v", i, r.Kind)
		}
	}
}

func TestParseOversizeFrameIsConnectionError(t *testing.T) {
	buf := EncodePing([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, false)
	r := Parse(buf, 4) // PING payload is 8 bytes, larger than the negotiated max forces the error
	if r.Kind != VerdictConnectionError || r.Reason != http2.ErrCodeFrameSize {
		t.Fatalf("want frame_size connection error, got %+v", r)
	}
}

func TestParsePingRoundTrip(t *testing.T) {
	want := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := EncodePing(want, true)
	r := Parse(buf, 16384)
	if r.Kind != VerdictFrame {
		t.Fatalf("want VerdictFrame, got %v (%s)", r.Kind, r.Text)
	}
	if r.Frame.Type != http2.FramePing || !r.Frame.PingAck || r.Frame.PingData != want {
		t.Fatalf("unexpected ping frame: %+v", r.Frame)
	}
	if len(r.Rest) != 0 {
		t.Fatalf("want no remainder, got %d bytes", len(r.Rest))
	}
}

func TestParseDataEndStream(t *testing.T) {
	buf := EncodeData(1, []byte("hello"), true)
	r := Parse(buf, 16384)
	if r.Kind != VerdictFrame || r.Frame.Type != http2.FrameData {
		t.Fatalf("want DATA frame, got %+v", r)
	}
	if !r.Frame.EndStream || string(r.Frame.Data) != "hello" {
		t.Fatalf("unexpected data frame: %+v", r.Frame)
	}
}

func TestParseSettingsAck(t *testing.T) {
	r := Parse(EncodeSettingsAck(), 16384)
	if r.Kind != VerdictFrame || !r.Frame.SettingsAck {
		t.Fatalf("want SETTINGS ack, got %+v", r)
	}
}

func TestParseHeadersWithContinuation(t *testing.T) {
	var hbuf bytes.Buffer
	enc := hpack.NewEncoder(&hbuf)
	for i := 0; i < 200; i++ {
		_ = enc.WriteField(hpack.HeaderField{Name: "x-padding", Value: "0123456789"})
	}
	block := hbuf.Bytes()

	buf := EncodeHeaders(3, block, true, 128)
	r := Parse(buf, 128)
	if r.Kind != VerdictFrame {
		t.Fatalf("want VerdictFrame, got %v (%s)", r.Kind, r.Text)
	}
	if r.Frame.Type != http2.FrameHeaders || r.Frame.StreamID != 3 {
		t.Fatalf("unexpected frame: %+v", r.Frame)
	}
	if len(r.Frame.HeaderBlock) != len(block) {
		t.Fatalf("want aggregated block of %d bytes, got %d", len(block), len(r.Frame.HeaderBlock))
	}
}

func TestParsePriorityFrameIsIgnored(t *testing.T) {
	// A PRIORITY frame (type 0x2), 5-byte payload.
	buf := []byte{0x00, 0x00, 0x05, 0x02, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x10}
	r := Parse(buf, 16384)
	if r.Kind != VerdictIgnore {
		t.Fatalf("want VerdictIgnore, got %v", r.Kind)
	}
	if len(r.Rest) != 0 {
		t.Fatalf("want frame fully consumed, got %d bytes left", len(r.Rest))
	}
}
