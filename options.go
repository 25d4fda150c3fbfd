package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/RottenNinja-Go/pipeline/binding"
	"github.com/RottenNinja-Go/pipeline/config"
)

// ShortCircuitPolicy decides which post phases a short-circuited response
// passes through.
type ShortCircuitPolicy struct {
	RunResponseHooks bool
	RunErrorHooks    bool
}

// Observer receives pipeline outcomes. The metrics package provides a
// Prometheus implementation.
type Observer interface {
	Observe(route, method string, status int, elapsed time.Duration)
	ShortCircuit(phase string)
	ValidationFailure(route string)
	Timeout(route string)
}

type nopObserver struct{}

func (nopObserver) Observe(string, string, int, time.Duration) {}
func (nopObserver) ShortCircuit(string)                        {}
func (nopObserver) ValidationFailure(string)                   {}
func (nopObserver) Timeout(string)                             {}

// Options configure a Framework.
type Options struct {
	// RequestTimeout aborts a request after the given duration with 408.
	// Zero disables the timeout.
	RequestTimeout time.Duration
	Limits         binding.Limits
	// RequestID installs RequestIDHook as the first onRequest hook.
	RequestID       bool
	ShortCircuit    ShortCircuitPolicy
	ProblemTypeBase string
	Logger          zerolog.Logger
	Observer        Observer
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the options used by New before any Option applies.
func DefaultOptions() Options {
	return Options{
		Limits:       binding.DefaultLimits,
		ShortCircuit: ShortCircuitPolicy{RunResponseHooks: true},
		Logger:       zerolog.Nop(),
		Observer:     nopObserver{},
	}
}

// WithRequestTimeout aborts a request with 408 once d has elapsed. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithLimits sets the body and file limits routes inherit.
func WithLimits(l binding.Limits) Option {
	return func(o *Options) { o.Limits = l }
}

// WithRequestID installs RequestIDHook ahead of every other onRequest hook.
func WithRequestID(enabled bool) Option {
	return func(o *Options) { o.RequestID = enabled }
}

// WithShortCircuitPolicy sets which hooks see a short-circuited response.
func WithShortCircuitPolicy(p ShortCircuitPolicy) Option {
	return func(o *Options) { o.ShortCircuit = p }
}

// WithProblemTypeBase sets the prefix of the problem "type" URI.
func WithProblemTypeBase(base string) Option {
	return func(o *Options) { o.ProblemTypeBase = base }
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithObserver receives lifecycle events. A nil observer discards them.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		if obs == nil {
			obs = nopObserver{}
		}
		o.Observer = obs
	}
}

// OptionsFromConfig translates the pipeline section of the configuration.
func OptionsFromConfig(c config.Pipeline) []Option {
	return []Option{
		WithRequestTimeout(c.RequestTimeout),
		WithLimits(binding.Limits{
			MaxBodyBytes:       c.MaxBodyBytes,
			MaxNestingDepth:    c.MaxNestingDepth,
			MaxMultipartMemory: c.MaxMultipartMemory,
		}),
		WithRequestID(c.RequestID),
		WithShortCircuitPolicy(ShortCircuitPolicy{
			RunResponseHooks: c.ShortCircuit.RunResponseHooks,
			RunErrorHooks:    c.ShortCircuit.RunErrorHooks,
		}),
		WithProblemTypeBase(c.ProblemTypeBase),
	}
}
