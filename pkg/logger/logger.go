package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the global logger. Production environments log JSON to
// stdout unless stderr is attached to a terminal.
func Init(env string, debug bool) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var out io.Writer = os.Stdout
	if env != "production" || term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	Log = zerolog.New(out).With().Timestamp().Logger()
}

// withFields attaches key/value pairs to e. An odd number of values is
// reported in the message rather than dropped.
func withFields(e *zerolog.Event, keyValues []interface{}) *zerolog.Event {
	if len(keyValues)%2 != 0 {
		return e.Interface("unpaired", keyValues)
	}
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			return e.Interface("unpaired", keyValues)
		}
		e = e.Interface(key, keyValues[i+1])
	}
	return e
}

func Debug(msg string, keyValues ...interface{}) {
	withFields(Log.Debug(), keyValues).Msg(msg)
}

// Info logs an info message with optional key/value context.
func Info(msg string, keyValues ...interface{}) {
	withFields(Log.Info(), keyValues).Msg(msg)
}

func Infof(format string, v ...interface{}) {
	Log.Info().Msgf(format, v...)
}

func Warn(msg string, keyValues ...interface{}) {
	withFields(Log.Warn(), keyValues).Msg(msg)
}

// Error logs an error message. keyValues must be pairs.
func Error(msg string, err error, keyValues ...interface{}) {
	if len(keyValues)%2 != 0 {
		panic("keyValues must be a list of key/value pairs")
	}
	withFields(Log.Error(), keyValues).Caller(1).Stack().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits the program.
func Fatal(msg string, err error) {
	Log.Fatal().Err(err).Msg(msg)
}
