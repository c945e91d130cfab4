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

// Package zap implements the logger.Logger interface on top of uber zap.
package zap

import (
	"os"

	uzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vmware/vmware-go-couchhouse/logger"
)

type zapLogger struct {
	sugaredLogger *uzap.SugaredLogger
}

// NewZapLogger adapts existing sugared zap logger to Logger interface.
// The call is responsible for configuring sugard zap logger appropriately.
//
// Base zap logger can be convert to SugaredLogger by calling to add a wrapper:
// sugaredLogger := log.Sugar()
func NewZapLogger(l *uzap.SugaredLogger) logger.Logger {
	return &zapLogger{
		sugaredLogger: l,
	}
}

// NewZapLoggerWithConfig creates and configs Logger instance backed by
// zap Sugared logger.
func NewZapLoggerWithConfig(config logger.Configuration) logger.Logger {
	var cores []zapcore.Core

	if config.EnableConsole {
		core := zapcore.NewCore(getEncoder(config.ConsoleJSONFormat), zapcore.Lock(os.Stdout), getZapLevel(config.ConsoleLevel))
		cores = append(cores, core)
	}

	if config.EnableFile {
		writer := zapcore.AddSync(logger.NewRollingFile(config))
		core := zapcore.NewCore(getEncoder(config.FileJSONFormat), writer, getZapLevel(config.FileLevel))
		cores = append(cores, core)
	}

	// AddCallerSkip(1) reports the caller of the adapter instead of this file.
	l := uzap.New(zapcore.NewTee(cores...),
		uzap.AddCallerSkip(1),
		uzap.AddCaller(),
	).Sugar()

	return &zapLogger{
		sugaredLogger: l,
	}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.sugaredLogger.Debugf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.sugaredLogger.Infof(format, args...)
}

func (l *zapLogger) Warnf(format string, args ...interface{}) {
	l.sugaredLogger.Warnf(format, args...)
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.sugaredLogger.Errorf(format, args...)
}

func (l *zapLogger) Fatalf(format string, args ...interface{}) {
	l.sugaredLogger.Fatalf(format, args...)
}

func (l *zapLogger) Panicf(format string, args ...interface{}) {
	l.sugaredLogger.Panicf(format, args...)
}

func (l *zapLogger) WithFields(fields logger.Fields) logger.Logger {
	f := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		f = append(f, k, v)
	}
	return &zapLogger{l.sugaredLogger.With(f...)}
}

func getEncoder(isJSON bool) zapcore.Encoder {
	encoderConfig := uzap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if isJSON {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getZapLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
