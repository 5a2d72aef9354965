// Command h2engine-demo issues a single GET over a client-side HTTP/2
// engine against a server passed on the command line, printing the
// response status and body to stdout. It wires the Prometheus event
// handler and an optional YAML config file (mirroring the teacher's own
// small cmd/* wiring style) rather than anything more elaborate: the
// engine package is the thing under test here, not this command.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"sigs.k8s.io/yaml"

	"github.com/costinm/h2engine"
	"github.com/costinm/h2engine/eventhandler/promhandler"
	"github.com/costinm/h2engine/streamtable"
	"github.com/costinm/h2engine/transport"
)

// config is the optional YAML file shape accepted via -config (SPEC_FULL
// §11), letting a deployment override the handful of Options the engine
// exposes without recompiling.
type config struct {
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	Path             string        `json:"path"`
	Keepalive        time.Duration `json:"keepalive"`
	KeepaliveTimeout time.Duration `json:"keepaliveTimeout"`
}

func loadConfig(path string) (config, error) {
	cfg := config{Port: 443, Path: "/"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// replyPrinter is the streamtable.ReplyTarget for this one-shot request:
// it prints every Message it receives and signals done on MessageResponse
// with Fin or on MessageData/MessageTrailers/MessageError terminal cases.
type replyPrinter struct {
	done chan struct{}
}

func (r *replyPrinter) Deliver(msg interface{}) {
	m := msg.(h2engine.Message)
	switch m.Kind {
	case h2engine.MessageResponse:
		fmt.Printf("status: %d\n", m.Status)
		if m.Fin {
			close(r.done)
		}
	case h2engine.MessageData:
		os.Stdout.Write(m.Payload)
		if m.Fin {
			close(r.done)
		}
	case h2engine.MessageTrailers:
		close(r.done)
	case h2engine.MessageError:
		fmt.Fprintf(os.Stderr, "error: %v\n", m.Cause)
		close(r.done)
	}
}

type owner struct{}

func (owner) EngineDown(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine down: %v\n", err)
	}
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.Host = flag.Arg(0)
	}
	if cfg.Host == "" {
		fmt.Fprintln(os.Stderr, "usage: h2engine-demo [-config file] host")
		os.Exit(2)
	}

	ctx := context.Background()
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	rawConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName:         cfg.Host,
		NextProtos:         []string{"h2"},
		InsecureSkipVerify: *insecure,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tls handshake: %v\n", err)
		os.Exit(1)
	}

	opts, err := h2engine.New(
		h2engine.WithKeepalive(cfg.Keepalive),
		h2engine.WithKeepaliveTimeout(firstPositive(cfg.KeepaliveTimeout, 20*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "options: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	handler := promhandler.New[int](prometheus.DefaultRegisterer)

	tr := transport.NewTLS(tlsConn)
	engine, err := h2engine.NewEngine[int](ctx, owner{}, tr, opts, log, handler, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init: %v\n", err)
		os.Exit(1)
	}

	reply := &replyPrinter{done: make(chan struct{})}
	ref := streamtable.NewRef()
	if err := engine.Request(ctx, ref, reply, "GET", cfg.Host, cfg.Port, cfg.Path, nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		os.Exit(1)
	}

	go pumpTransport(engine, tlsConn)

	select {
	case <-reply.done:
	case <-time.After(30 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for response")
	}
}

// pumpTransport is the coordinator loop spec §6 assumes exists externally:
// read raw bytes off the wire and feed them to Engine.Handle until the
// engine asks for the connection to close.
func pumpTransport(engine *h2engine.Engine[int], conn net.Conn) {
	buf := make([]byte, 16384)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			action, herr := engine.Handle(context.Background(), buf[:n])
			if herr != nil {
				fmt.Fprintf(os.Stderr, "frame error: %v\n", herr)
			}
			if action == h2engine.ActionClose {
				_ = conn.Close()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
			engine.Close("transport closed")
			return
		}
	}
}

func firstPositive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
