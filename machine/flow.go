package machine

import "github.com/costinm/h2engine/codec"

// SendFrame is one element of the {send, [(id, fin, frames)], machine'}
// result shape from spec §4.2: an already-encoded DATA frame ready for
// the engine to write to the transport.
type SendFrame struct {
	StreamID uint32
	Fin      bool
	Bytes    []byte
}

// SendOrQueueData applies per-stream and connection flow-control windows
// to an outbound DATA payload, queuing any unsent remainder inside the
// Machine so a single call either writes or parks atomically (spec §9
// "Queueing"). It never fragments below what both windows currently
// allow, and further splits to MaxFrameSize.
func (m *Machine) SendOrQueueData(id uint32, fin bool, payload []byte) []SendFrame {
	s, ok := m.streams[id]
	if !ok {
		return nil
	}
	s.queued = append(s.queued, queuedData{fin: fin, payload: payload})
	return m.drain(s)
}

// drain emits as many queued DATA frames as the current stream and
// connection windows allow, in FIFO order, splitting to MaxFrameSize.
func (m *Machine) drain(s *stream) []SendFrame {
	var out []SendFrame
	for len(s.queued) > 0 {
		head := &s.queued[0]
		if len(head.payload) == 0 && !head.fin {
			s.queued = s.queued[1:]
			continue
		}
		avail := s.sendWindow
		if m.connSendWindow < avail {
			avail = m.connSendWindow
		}
		if avail <= 0 && len(head.payload) > 0 {
			break
		}
		chunk := head.payload
		chunkFin := head.fin
		if int32(len(chunk)) > avail {
			chunk = chunk[:avail]
			chunkFin = false
		}
		if max := m.remoteMaxFrameSize(); uint32(len(chunk)) > max {
			chunk = chunk[:max]
			chunkFin = false
		}

		s.sendWindow -= int32(len(chunk))
		m.connSendWindow -= int32(len(chunk))

		out = append(out, SendFrame{
			StreamID: s.id,
			Fin:      chunkFin,
			Bytes:    codec.EncodeData(s.id, chunk, chunkFin),
		})

		head.payload = head.payload[len(chunk):]
		if len(head.payload) == 0 {
			if head.fin {
				s.localClosed = true
			}
			s.queued = s.queued[1:]
		}
	}
	return out
}

// UpdateWindow credits the connection-level send window (spec §4.2
// "update_window(size, machine)"), returning any queued DATA the credit
// unblocks across every stream.
func (m *Machine) UpdateWindow(size uint32) []SendFrame {
	m.connSendWindow += int32(size)
	var out []SendFrame
	for _, s := range m.streams {
		out = append(out, m.drain(s)...)
	}
	return out
}

// UpdateStreamWindow credits a single stream's send window (spec §4.2
// "update_window(id, size, machine)").
func (m *Machine) UpdateStreamWindow(id uint32, size uint32) []SendFrame {
	s, ok := m.streams[id]
	if !ok {
		return nil
	}
	s.sendWindow += int32(size)
	return m.drain(s)
}
