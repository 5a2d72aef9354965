package h2engine

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/costinm/h2engine/contenthandler"
	"github.com/costinm/h2engine/machine"
)

// Options is the engine's validated configuration (spec §3 Engine State
// "opts", §4.5 "Option validation"). Build one with New plus With*
// functions; New returns a *multierror.Error aggregating every offending
// option at once, mirroring the teacher's H2Config/ServerConfig knob
// bags in h2/stream.go adapted to a validated functional-options
// constructor — the idiomatic Go alternative the rest of the corpus
// (hexinfra-gorox's init/onConfigure pairs) reaches for when a config
// step must fail loudly.
type Options struct {
	// ContentHandlers builds the per-stream body-decoder pipeline (spec
	// §4.5 "content_handlers"). Defaults to contenthandler.Default().
	ContentHandlers contenthandler.Factory

	// Keepalive is the PING interval, or 0 for "disabled". Recognized
	// values per spec §4.5 are "infinity" (represented here as 0, meaning
	// no keepalive ticker) or a positive duration.
	Keepalive time.Duration

	// KeepaliveTimeout is validated and stored, but the engine does not
	// read it: a PING that is still unacknowledged at the next Keepalive
	// tick raises the connection error, so the wait for a PING-ACK is one
	// Keepalive interval whatever this is set to.
	KeepaliveTimeout time.Duration

	// Settings seeds the Protocol Machine's locally-advertised SETTINGS.
	// Defaults to machine.DefaultSettings().
	Settings machine.Settings
}

// Option mutates an in-progress Options during New, appending to errs on
// validation failure.
type Option func(o *Options, errs *[]error)

// New validates and constructs Options from a list of functional
// options, aggregating every validation failure into one *multierror.Error
// (spec §4.5: "unknown keys and bad keepalive values produce a
// *multierror.Error wrapping one *OptionError per offending field").
func New(opts ...Option) (Options, error) {
	o := Options{
		ContentHandlers:  contenthandler.Default(),
		Settings:         machine.DefaultSettings(),
		KeepaliveTimeout: 20 * time.Second,
	}
	var errs []error
	for _, opt := range opts {
		opt(&o, &errs)
	}
	if len(errs) == 0 {
		return o, nil
	}
	var merr *multierror.Error
	merr = multierror.Append(merr, errs...)
	return o, merr.ErrorOrNil()
}

// WithContentHandlers overrides the default pass-through body pipeline.
func WithContentHandlers(f contenthandler.Factory) Option {
	return func(o *Options, errs *[]error) {
		if f == nil {
			*errs = append(*errs, &OptionError{Key: "content_handlers", Value: nil, Text: "must not be nil"})
			return
		}
		o.ContentHandlers = f
	}
}

// WithKeepalive sets the PING interval; d == 0 means "infinity" and a
// negative d is rejected (spec §4.5: "keepalive (infinity or positive
// integer milliseconds)").
func WithKeepalive(d time.Duration) Option {
	return func(o *Options, errs *[]error) {
		if d < 0 {
			*errs = append(*errs, &OptionError{Key: "keepalive", Value: d, Text: "must be infinity or a positive duration"})
			return
		}
		o.Keepalive = d
	}
}

// WithKeepaliveTimeout sets Options.KeepaliveTimeout, rejecting d <= 0.
// The engine does not read the value; see the field's comment.
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(o *Options, errs *[]error) {
		if d <= 0 {
			*errs = append(*errs, &OptionError{Key: "keepalive_timeout", Value: d, Text: "must be positive"})
			return
		}
		o.KeepaliveTimeout = d
	}
}

// WithSettings overrides the locally-advertised SETTINGS.
func WithSettings(s machine.Settings) Option {
	return func(o *Options, _ *[]error) {
		o.Settings = s
	}
}
