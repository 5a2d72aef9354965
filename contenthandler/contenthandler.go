// Package contenthandler describes the response-body decoder pipeline
// the Engine Loop builds per stream once final response headers arrive
// (spec §4.4.2). Decoding the body itself (gzip, chunked framing,
// protobuf, ...) is out of scope for the engine (spec §1 "external
// collaborators"); this package only defines the factory contract and a
// pass-through default.
package contenthandler

// Handler receives DATA payloads for one stream, in order, and the
// terminal fin flag on the last call.
type Handler interface {
	// HandleData is called once per DATA frame delivered to the stream,
	// with fin true on the frame that closes the stream remotely.
	HandleData(payload []byte, fin bool) error
}

// Factory builds a Handler for a newly-started response, given the
// request method and the response's pseudo/regular headers. Returning an
// error aborts construction; the engine treats that as a stream error.
type Factory interface {
	New(method string, headers [][2]string) (Handler, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(method string, headers [][2]string) (Handler, error)

func (f FactoryFunc) New(method string, headers [][2]string) (Handler, error) {
	return f(method, headers)
}

// passThrough is the default handler (spec §4.5 "Default content_handlers
// is a single pass-through data handler"): it does nothing with the
// bytes, leaving delivery to the {data, ref, fin, payload} application
// message the engine sends to reply_to independently of this pipeline.
type passThrough struct{}

func (passThrough) HandleData(_ []byte, _ bool) error { return nil }

// Default returns the pass-through Factory used when no content_handlers
// option is configured.
func Default() Factory {
	return FactoryFunc(func(string, [][2]string) (Handler, error) {
		return passThrough{}, nil
	})
}
