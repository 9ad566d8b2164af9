package util

import (
	"os"
	"strings"

	"github.com/mxcd/go-config/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

func InitLogger() error {
	setLogLevel()
	setLogOutput()
	return nil
}

func setLogOutput() {
	dev := config.Get().Bool("DEV")

	const timeLayout = "2006-01-02T15:04:05.000Z07:00"
	zerolog.TimeFieldFormat = timeLayout
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	if dev {
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    false,
			TimeFormat: timeLayout,
		}).With().Caller().Logger()
	} else {
		log.Logger = log.Logger.With().Caller().Logger()
	}
}

func setLogLevel() {
	zerolog.SetGlobalLevel(parseLogLevel(config.Get().String("LOG_LEVEL")))
}

func parseLogLevel(logLevel string) zerolog.Level {
	switch strings.ToLower(logLevel) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "err", "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
