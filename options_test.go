package h2engine

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func TestNewDefaultsAreUsable(t *testing.T) {
	o, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ContentHandlers == nil {
		t.Fatalf("want a default content handler factory")
	}
	if o.KeepaliveTimeout != 20*time.Second {
		t.Fatalf("want default keepalive timeout of 20s, got %v", o.KeepaliveTimeout)
	}
}

func TestNewAggregatesValidationErrors(t *testing.T) {
	_, err := New(
		WithContentHandlers(nil),
		WithKeepalive(-1),
		WithKeepaliveTimeout(0),
	)
	if err == nil {
		t.Fatalf("want an aggregated error")
	}
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("want *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 3 {
		t.Fatalf("want 3 aggregated errors, got %d: %v", len(merr.Errors), merr.Errors)
	}
}

func TestWithKeepaliveAllowsZeroForInfinity(t *testing.T) {
	o, err := New(WithKeepalive(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Keepalive != 0 {
		t.Fatalf("want Keepalive 0 (infinity), got %v", o.Keepalive)
	}
}
