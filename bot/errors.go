package bot

import (
	"errors"
	"fmt"

	"github.com/onnwee/hatbot/rules"
)

// SendError reports a failed reply on a channel.
type SendError struct {
	Channel string
	Err     error
}

func (e *SendError) Error() string { return fmt.Sprintf("send to #%s: %v", e.Channel, e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// JoinError reports a failed channel join.
type JoinError struct {
	Channel string
	Err     error
}

func (e *JoinError) Error() string { return fmt.Sprintf("join #%s: %v", e.Channel, e.Err) }

func (e *JoinError) Unwrap() error { return e.Err }

// ErrorClass says how far an error should propagate.
type ErrorClass int

const (
	// ErrorClassNone is the class of a nil error.
	ErrorClassNone ErrorClass = iota
	// ErrorClassMessage errors cost one message; the event loop keeps going.
	ErrorClassMessage
	// ErrorClassFatal errors stop startup or the run.
	ErrorClassFatal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassNone:
		return "none"
	case ErrorClassMessage:
		return "message"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify sorts an error into its class.
//
// Fatal: bad rules documents, bad trigger patterns, failed joins.
// Message: failed sends, failed external fetches, and anything unrecognized,
// so an unexpected error drops one message instead of the whole bot.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	var (
		ce *rules.ConfigError
		pe *rules.PatternCompileError
		je *JoinError
	)
	if errors.As(err, &ce) || errors.As(err, &pe) || errors.As(err, &je) {
		return ErrorClassFatal
	}
	return ErrorClassMessage
}

// IsFatal reports whether err should stop the bot.
func IsFatal(err error) bool { return Classify(err) == ErrorClassFatal }
