package h2engine

import (
	"strconv"
	"strings"

	"github.com/costinm/h2engine/transport"
)

// hopByHop lists the headers §8 invariant 6 forbids in a serialized
// HEADERS frame; a "host" header instead becomes the :authority
// pseudo-header.
var hopByHop = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// stripHopByHop returns headers with hop-by-hop fields removed and, if
// present, the value of a "host" header (spec §4.4.3).
func stripHopByHop(headers [][2]string) (clean [][2]string, host string) {
	clean = make([][2]string, 0, len(headers))
	for _, h := range headers {
		key := strings.ToLower(h[0])
		if key == "host" {
			host = h[1]
			continue
		}
		if _, skip := hopByHop[key]; skip {
			continue
		}
		clean = append(clean, h)
	}
	return clean, host
}

// authority computes :authority from an explicit host header if present,
// else from host+port+scheme defaults (spec §4.4.3).
func authority(explicitHost, host string, port int, scheme string) string {
	if explicitHost != "" {
		return explicitHost
	}
	if isDefaultPort(scheme, port) {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "https":
		return port == 443 || port == 0
	case "http":
		return port == 80 || port == 0
	default:
		return false
	}
}

// pseudoHeaders builds the {method, scheme, authority, path} request
// pseudo-headers (spec §4.4.3), in HTTP/2's conventional wire order.
func pseudoHeaders(method string, kind transport.Kind, auth, path string) [][2]string {
	return [][2]string{
		{":method", method},
		{":scheme", transport.Scheme(kind)},
		{":authority", auth},
		{":path", path},
	}
}

// absoluteURI builds scheme://authority+path as a bytewise concatenation
// (spec §4.4.2 PUSH_PROMISE: "absolute_uri = scheme '://' authority path").
func absoluteURI(pseudo map[string]string) string {
	return pseudo[":scheme"] + "://" + pseudo[":authority"] + pseudo[":path"]
}
