// Package logger provides logging functionality for the application.
package logger

// Level represents the logging level.
type Level string

const (
	// DebugLevel logs debug messages.
	DebugLevel Level = "debug"
	// InfoLevel logs info messages.
	InfoLevel Level = "info"
	// WarnLevel logs warning messages.
	WarnLevel Level = "warn"
	// ErrorLevel logs error messages.
	ErrorLevel Level = "error"
	// FatalLevel logs fatal messages and exits.
	FatalLevel Level = "fatal"
)

// Numeric level thresholds accepted in configuration. These follow the
// conventional 10..50 scale where lower numbers are more verbose.
const (
	NumericDebug = 10
	NumericInfo  = 20
	NumericWarn  = 30
	NumericError = 40
	NumericFatal = 50
)

// Config represents the logger configuration.
type Config struct {
	// Level is the minimum logging level.
	Level Level `yaml:"level" json:"level"`
	// Development enables development mode.
	Development bool `yaml:"development" json:"development"`
	// Encoding sets the logger's encoding.
	Encoding string `yaml:"encoding" json:"encoding"`
	// OutputPaths is a list of URLs or file paths to write logging output to.
	OutputPaths []string `yaml:"outputPaths" json:"outputPaths"`
}

// LevelFromInt maps a numeric level from configuration onto a named Level.
// Unknown or out-of-range values fall back to info.
func LevelFromInt(n int) Level {
	switch {
	case n <= 0:
		return InfoLevel
	case n <= NumericDebug:
		return DebugLevel
	case n <= NumericInfo:
		return InfoLevel
	case n <= NumericWarn:
		return WarnLevel
	case n <= NumericError:
		return ErrorLevel
	default:
		return FatalLevel
	}
}
