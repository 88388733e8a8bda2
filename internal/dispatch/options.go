package dispatch

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// BatchPolicy decides what happens to a batch that contains rejected ids.
type BatchPolicy int

const (
	// BestEffort applies every valid write and skips only the rejected ones.
	BestEffort BatchPolicy = iota

	// AllOrNothing drops the whole batch when any id is rejected.
	AllOrNothing
)

func (p BatchPolicy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case AllOrNothing:
		return "all-or-nothing"
	default:
		return fmt.Sprintf("BatchPolicy(%d)", int(p))
	}
}

// ParseBatchPolicy accepts "best-effort" or "all-or-nothing".
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-effort", "besteffort":
		return BestEffort, nil
	case "all-or-nothing", "allornothing", "atomic":
		return AllOrNothing, nil
	default:
		return 0, fmt.Errorf("unknown batch policy %q", s)
	}
}

// Diagnostics is a one-way sink for human-readable status lines. Sinks must
// not block; their failures are ignored.
type Diagnostics interface {
	Diagnostic(msg string)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(msg string)

// Diagnostic calls f(msg).
func (f DiagnosticsFunc) Diagnostic(msg string) { f(msg) }

// logDiagnostics writes diagnostics to the debug log.
var logDiagnostics = DiagnosticsFunc(func(msg string) {
	log.Debug().Str("component", "dispatch").Msg(msg)
})

// Config holds the dispatcher configuration.
type Config struct {
	// Diagnostics receives status lines (default: debug log)
	Diagnostics Diagnostics

	// SegmentCheck rejects ids that fall in padding gaps between segments
	SegmentCheck bool

	// BatchPolicy controls partial application of batches
	BatchPolicy BatchPolicy
}

func defaultConfig() Config {
	return Config{
		Diagnostics:  logDiagnostics,
		SegmentCheck: true,
		BatchPolicy:  BestEffort,
	}
}

// Option is a functional option for configuring the Dispatcher.
type Option func(*Config)

// WithDiagnostics sets the diagnostic sink.
//
// Example:
//
//	d, _ := dispatch.New(p, fb, dispatch.WithDiagnostics(dispatch.DiagnosticsFunc(func(m string) {
//	    fmt.Println(m)
//	})))
func WithDiagnostics(sink Diagnostics) Option {
	return func(c *Config) {
		if sink != nil {
			c.Diagnostics = sink
		}
	}
}

// WithSegmentCheck enables or disables rejection of ids that address
// padding rather than a physical LED. Default is true.
func WithSegmentCheck(enabled bool) Option {
	return func(c *Config) {
		c.SegmentCheck = enabled
	}
}

// WithBatchPolicy sets how batches with rejected ids are applied.
// Default is BestEffort.
func WithBatchPolicy(policy BatchPolicy) Option {
	return func(c *Config) {
		c.BatchPolicy = policy
	}
}
