package machine

// EventKind discriminates the application-visible events the Machine can
// produce from consuming a frame (spec §4.2 frame() return shapes).
type EventKind int

const (
	EventData EventKind = iota
	EventHeaders
	EventTrailers
	EventRSTStream
	EventPushPromise
	EventGoAway
)

// Event is the {data,...}|{headers,...}|{trailers,...}|{rst_stream,...}|
// {push_promise,...}|{goaway,...} union from spec §4.2, flattened into
// one struct with a discriminant.
type Event struct {
	Kind EventKind

	StreamID uint32
	Fin      bool

	// EventData
	Payload []byte

	// EventHeaders / EventTrailers / EventPushPromise
	Pseudo  map[string]string
	Headers [][2]string
	Status  int // parsed :status, EventHeaders only

	// EventPushPromise
	ParentID   uint32
	PromisedID uint32

	// EventRSTStream
	Reason string

	// EventGoAway
	LastStreamID uint32
	Debug        string
}

// ResultKind discriminates Machine.Frame's return shape.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultOKEvent
	ResultSend
	ResultStreamError
	ResultConnectionError
)

// FrameResult is {ok,machine'} | {ok,event,machine'} | {send,[...],machine'}
// | {error,{stream_error,...},machine'} | {error,{connection_error,...},machine'}
// from spec §4.2, flattened.
type FrameResult struct {
	Kind ResultKind

	Event Event
	Send  []SendFrame

	StreamID uint32 // ResultStreamError
	Reason   string
	Text     string
}
