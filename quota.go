package h2engine

import "context"

// ErrStreamQuotaExceeded is returned by Headers/Request when the peer's
// advertised MAX_CONCURRENT_STREAMS is currently exhausted (SPEC_FULL
// §12 stream-quota supplement: init_stream's spec.md signature is
// unconditional, but a real server-side concurrency limit must be
// honored). The call is queued internally and retried automatically as
// soon as a stream closes or SETTINGS raises the limit; callers do not
// need to retry themselves, but may inspect this error for logging.
var ErrStreamQuotaExceeded = &BadStateError{Text: "max_concurrent_streams exhausted, request queued"}

// pendingCall is a deferred headers/request invocation, parked while the
// stream table is at the peer's concurrency limit.
type pendingCall struct {
	run func(ctx context.Context)
}

// quotaAvailable reports whether a new client-initiated stream may be
// opened right now.
func (e *Engine[S]) quotaAvailable() bool {
	limit := e.machine.RemoteMaxConcurrentStreams()
	if limit == 0 {
		return true
	}
	return uint32(e.machine.ActiveStreamCount()) < limit
}

// retryWaiting drains as many queued calls as current quota allows. Must
// be called with e.mu already held.
func (e *Engine[S]) retryWaiting(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for len(e.waiting) > 0 && e.quotaAvailable() {
		call := e.waiting[0]
		e.waiting = e.waiting[1:]
		call.run(ctx)
	}
}
