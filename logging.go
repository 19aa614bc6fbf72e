package grpcbridge

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogLevel is the verbosity switch exposed to the host. Levels are
// cumulative: a level enables itself and everything below it.
type LogLevel int32

const (
	// LogNone disables all output.
	LogNone LogLevel = iota
	// LogError enables error output only.
	LogError
	// LogWarn enables warnings and errors.
	LogWarn
	// LogInfo enables informational output.
	LogInfo
	// LogDebug enables debug output.
	LogDebug
	// LogTrace enables per-message tracing. Very noisy.
	LogTrace
)

// String implements fmt.Stringer.
func (x LogLevel) String() string {
	switch x {
	case LogNone:
		return "none"
	case LogError:
		return "error"
	case LogWarn:
		return "warn"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// logifaceLevel maps a LogLevel to the corresponding logiface level,
// used when gating builder construction.
func (x LogLevel) logifaceLevel() logiface.Level {
	switch x {
	case LogError:
		return logiface.LevelError
	case LogWarn:
		return logiface.LevelWarning
	case LogInfo:
		return logiface.LevelInformational
	case LogDebug:
		return logiface.LevelDebug
	case LogTrace:
		return logiface.LevelTrace
	default:
		return logiface.LevelDisabled
	}
}

// defaultLogger builds the built-in logger: stumpy JSON to stderr,
// level gating left to the Client (the logger itself is wide open so
// SetLogLevel takes effect without rebuilding it).
func defaultLogger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}

// levelEnabled reports whether the client's current log level admits
// the given severity.
func (c *Client) levelEnabled(level LogLevel) bool {
	return LogLevel(c.logLevel.Load()) >= level
}

// logB returns a builder for the given severity, or nil (a no-op
// builder) when the level is suppressed. Builders returned by this
// method are nil-safe per logiface semantics.
func (c *Client) logB(level LogLevel) *logiface.Builder[logiface.Event] {
	if !c.levelEnabled(level) {
		return nil
	}
	return c.logger.Build(level.logifaceLevel())
}

func (c *Client) logErr() *logiface.Builder[logiface.Event]   { return c.logB(LogError) }
func (c *Client) logWarn() *logiface.Builder[logiface.Event]  { return c.logB(LogWarn) }
func (c *Client) logInfo() *logiface.Builder[logiface.Event]  { return c.logB(LogInfo) }
func (c *Client) logDebug() *logiface.Builder[logiface.Event] { return c.logB(LogDebug) }
func (c *Client) logTrace() *logiface.Builder[logiface.Event] { return c.logB(LogTrace) }

// SetLogLevel adjusts the client's verbosity at runtime. Values
// outside [LogNone, LogTrace] are clamped.
func (c *Client) SetLogLevel(level LogLevel) {
	if level < LogNone {
		level = LogNone
	} else if level > LogTrace {
		level = LogTrace
	}
	c.logLevel.Store(int32(level))
}

// LogLevel returns the client's current verbosity.
func (c *Client) LogLevel() LogLevel {
	return LogLevel(c.logLevel.Load())
}
