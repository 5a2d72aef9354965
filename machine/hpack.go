package machine

import (
	"bytes"
	"strconv"

	"golang.org/x/net/http2/hpack"
)

// hpackEncoder and hpackDecoder hold the two persistent dynamic tables
// the Machine owns (spec §4.2 "maintains HPACK tables"); this is exactly
// the state the pure Frame Codec in package codec must not carry.
type hpackEncoder struct {
	buf *bytes.Buffer
	enc *hpack.Encoder
}

func newHPACKEncoder(tableSize uint32) *hpackEncoder {
	buf := &bytes.Buffer{}
	enc := hpack.NewEncoder(buf)
	enc.SetMaxDynamicTableSize(tableSize)
	return &hpackEncoder{buf: buf, enc: enc}
}

func (e *hpackEncoder) encode(fields []hpack.HeaderField) []byte {
	e.buf.Reset()
	for _, f := range fields {
		_ = e.enc.WriteField(f)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out
}

type hpackDecoder struct {
	dec *hpack.Decoder
}

func newHPACKDecoder(tableSize uint32) *hpackDecoder {
	d := &hpackDecoder{}
	d.dec = hpack.NewDecoder(tableSize, nil)
	return d
}

// decode parses a (possibly CONTINUATION-aggregated) header block into
// pseudo-headers and regular headers, consuming/mutating the persistent
// dynamic table as a side effect.
func (d *hpackDecoder) decode(block []byte) (pseudo map[string]string, headers [][2]string, err error) {
	pseudo = make(map[string]string)
	d.dec.SetEmitFunc(func(f hpack.HeaderField) {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			pseudo[f.Name] = f.Value
			return
		}
		headers = append(headers, [2]string{f.Name, f.Value})
	})
	_, err = d.dec.Write(block)
	return pseudo, headers, err
}

// PrepareHeaders encodes pseudo-headers plus regular headers via HPACK,
// returning the wire header block and the END_STREAM bit the engine must
// set (spec §4.2 "prepare_headers"). Hop-by-hop headers must already be
// stripped by the caller (spec §4.4.3 / §8 invariant 6).
func (m *Machine) PrepareHeaders(id uint32, finHint bool, pseudo [][2]string, headers [][2]string) (fin bool, block []byte) {
	fields := make([]hpack.HeaderField, 0, len(pseudo)+len(headers))
	for _, p := range pseudo {
		fields = append(fields, hpack.HeaderField{Name: p[0], Value: p[1]})
	}
	for _, h := range headers {
		fields = append(fields, hpack.HeaderField{Name: h[0], Value: h[1]})
	}
	block = m.hpackEnc.encode(fields)

	if s, ok := m.streams[id]; ok {
		s.localHeadersSent = true
		if finHint {
			s.localClosed = true
		}
	}
	return finHint, block
}

// PrepareTrailers encodes trailing headers and implicitly transitions
// the stream to locally closed (spec §4.2 "prepare_trailers").
func (m *Machine) PrepareTrailers(id uint32, trailers [][2]string) []byte {
	fields := make([]hpack.HeaderField, 0, len(trailers))
	for _, h := range trailers {
		fields = append(fields, hpack.HeaderField{Name: h[0], Value: h[1]})
	}
	block := m.hpackEnc.encode(fields)
	if s, ok := m.streams[id]; ok {
		s.localClosed = true
	}
	return block
}

// decodeStatus extracts the numeric :status pseudo-header, defaulting to
// 0 (unparsed/missing) rather than erroring. handleHeaders only calls it
// when :status is present (a block without one is trailers); a
// non-numeric value reaches the engine as status 0.
func decodeStatus(pseudo map[string]string) int {
	v, ok := pseudo[":status"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
