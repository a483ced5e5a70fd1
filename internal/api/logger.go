package api

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// restyLogger routes resty's internal messages to zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}
