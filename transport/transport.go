// Package transport abstracts the byte-oriented connection the engine
// multiplexes streams over. Connection establishment, TLS handshake and
// ALPN negotiation are external collaborators (see spec §1); this package
// only describes the capability the engine needs once a connection exists.
package transport

import (
	"context"
	"crypto/tls"
	"io"
)

// Kind distinguishes the transport variants that affect protocol
// decisions (the ":scheme" pseudo-header, proxy framing). Everything
// else about a Transport is opaque to the engine.
type Kind int

const (
	Plain Kind = iota
	TLS
	TLSProxy
)

// Transport is the capability the Engine Loop owns exclusively. Reads are
// delivered by the coordinator as opaque chunks (see spec §6); Transport
// only needs to support writes and a way to ask whether it is secured.
type Transport interface {
	// Send writes exactly len(p) bytes or returns an error. The engine
	// never partial-writes, so implementations must not either.
	Send(ctx context.Context, p []byte) error

	// Kind reports which scheme this transport maps requests to.
	Kind() Kind

	io.Closer
}

// Scheme returns "https" for TLS and TLSProxy, "http" for Plain, matching
// spec §9's "the only semantic dependency is that tls* variants map to
// :scheme = https".
func Scheme(k Kind) string {
	if k == Plain {
		return "http"
	}
	return "https"
}

// connTransport adapts a net.Conn-shaped writer into Transport. It is the
// concrete variant cmd/h2engine-demo wires up; engine tests use an
// in-memory fake instead.
type connTransport struct {
	io.Closer
	w    io.Writer
	kind Kind
}

// NewPlain wraps a plain TCP connection.
func NewPlain(rwc io.ReadWriteCloser) Transport {
	return &connTransport{Closer: rwc, w: rwc, kind: Plain}
}

// NewTLS wraps an already-handshaked TLS connection.
func NewTLS(conn *tls.Conn) Transport {
	return &connTransport{Closer: conn, w: conn, kind: TLS}
}

// NewTLSProxy wraps a TLS connection that itself tunnels through a forward
// proxy (CONNECT already completed by the coordinator).
func NewTLSProxy(conn *tls.Conn) Transport {
	return &connTransport{Closer: conn, w: conn, kind: TLSProxy}
}

func (c *connTransport) Send(ctx context.Context, p []byte) error {
	_, err := c.w.Write(p)
	return err
}

func (c *connTransport) Kind() Kind { return c.kind }
