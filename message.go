package h2engine

import "github.com/costinm/h2engine/streamtable"

// Message is the sum type of application-level messages the engine
// delivers to a stream's reply_to (spec §6). Exactly one MessageKind is
// meaningful per value; the rest of the fields are zero.
type MessageKind int

const (
	MessageInform MessageKind = iota
	MessageResponse
	MessageData
	MessageTrailers
	MessagePush
	MessageError
)

// Message is delivered via streamtable.ReplyTarget.Deliver. Fields not
// relevant to Kind are left zero.
type Message struct {
	Kind MessageKind
	Ref  streamtable.Ref

	// MessageInform / MessageResponse
	Fin     bool
	Status  int
	Headers [][2]string

	// MessageData
	Payload []byte

	// MessageTrailers reuses Headers.

	// MessagePush
	ParentRef   streamtable.Ref
	PromisedRef streamtable.Ref
	Method      string
	URI         string

	// MessageError
	Cause error
}
