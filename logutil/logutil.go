// Copyright 2026 The Tileplan Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil provides the planner's single shared logger, honouring
// an environment-controlled level the way the rest of the planning core
// expects (see spec §6). It mirrors the teacher's util/logutil: a package
// level BgLogger() backed by zap, with TRACE folded onto zap's Debug level
// plus a trace field since zap has no level below Debug. BgLogger also
// installs itself as pingcap/log's global logger, so code written in that
// package's call style (log.Info, log.Warn) shares the same sink and level.
package logutil

import (
	"os"
	"strings"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	levelEnv = "TILEPLAN_LOG_LEVEL"
	fileEnv  = "TILEPLAN_LOG_FILE"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// BgLogger returns the process-wide planner logger, initialising it from
// environment variables on first use.
func BgLogger() *zap.Logger {
	once.Do(func() {
		logger = newLogger(os.Getenv(levelEnv), os.Getenv(fileEnv))
		// Point pingcap/log's package-level Info/Warn/Error funcs at the same
		// core, so callers that prefer that package's call style (as the rest
		// of the pack does) still land in the one configured sink.
		log.ReplaceGlobals(logger, nil)
	})
	return logger
}

// ReplaceGlobals overrides the shared logger, primarily for tests that want
// to assert on emitted records.
func ReplaceGlobals(l *zap.Logger) {
	once.Do(func() {})
	logger = l
}

func newLogger(levelName, filePath string) *zap.Logger {
	level := parseLevel(levelName)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if filePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    64, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return zap.New(core, zap.AddCaller())
}

// parseLevel maps the spec's TRACE/DEBUG/WARN/ERROR vocabulary onto zap
// levels. TRACE has no zap equivalent and is folded onto Debug; callers
// that want to distinguish it should also pass zap.Bool("trace", true).
func parseLevel(name string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "INFO":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// Trace logs at Debug level with an explicit trace marker field, so that
// TRACE-only diagnostics (e.g. constraint-evaluation summaries) can still
// be told apart from ordinary Debug output by log consumers.
func Trace(msg string, fields ...zap.Field) {
	BgLogger().Debug(msg, append(fields, zap.Bool("trace", true))...)
}
