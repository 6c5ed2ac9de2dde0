package rp

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithLogger provides an optional logger for: Authenticator
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withLogger = l
		}
	}
}

// WithHooks provides optional extension-point implementations for:
// Authenticator
func WithHooks(h Hooks) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withHooks = h
		}
	}
}

// WithNow provides an optional time source for: Authenticator.  It is
// intended for deterministic tests of the freshness check.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withNow = now
		}
	}
}
