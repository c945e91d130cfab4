/*
 * Copyright (c) 2018 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

// Note: The implementation comes from https://www.mountedthoughts.com/golang-logger-interface/
// https://github.com/amitrai48/logger

// Package zerolog implements the logger.Logger interface using RS Zerolog logger
package zerolog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/vmware/vmware-go-couchhouse/logger"
)

type zeroLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a new logger.Logger backed by RS Zerolog using a default config
func NewZerologLogger() logger.Logger {
	return NewZerologLoggerWithConfig(logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: true,
		ConsoleLevel:      logger.Info,
		LocalTime:         true,
	})
}

// NewZerologLoggerWithConfig creates a new logger.Logger backed by RS Zerolog using the provided config
func NewZerologLoggerWithConfig(config logger.Configuration) logger.Logger {
	var writers []io.Writer
	level := config.ConsoleLevel

	if config.EnableConsole {
		if config.ConsoleJSONFormat {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
		}
	}

	if config.EnableFile {
		writers = append(writers, logger.NewRollingFile(config))
		if !config.EnableConsole {
			level = config.FileLevel
		}
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(getZeroLogLevel(level)).
		With().Timestamp().Logger()

	return &zeroLogger{log: l}
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) {
	z.log.Debug().Msgf(format, args...)
}

func (z *zeroLogger) Infof(format string, args ...interface{}) {
	z.log.Info().Msgf(format, args...)
}

func (z *zeroLogger) Warnf(format string, args ...interface{}) {
	z.log.Warn().Msgf(format, args...)
}

func (z *zeroLogger) Errorf(format string, args ...interface{}) {
	z.log.Error().Msgf(format, args...)
}

func (z *zeroLogger) Fatalf(format string, args ...interface{}) {
	z.log.Fatal().Msgf(format, args...)
}

func (z *zeroLogger) Panicf(format string, args ...interface{}) {
	z.log.Panic().Msgf(format, args...)
}

func (z *zeroLogger) WithFields(keyValues logger.Fields) logger.Logger {
	return &zeroLogger{
		log: z.log.With().Fields(map[string]interface{}(keyValues)).Logger(),
	}
}

func getZeroLogLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
