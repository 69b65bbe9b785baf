// Copyright 2026 The etcd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil builds the zap loggers used by the rollout binaries.
package logutil

import (
	"fmt"
	"os"

	"go.etcd.io/etcd/client/pkg/v3/logutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	StdErrLogOutput = "stderr"
	StdOutLogOutput = "stdout"

	JSONLogFormat    = "json"
	ConsoleLogFormat = "console"
)

// Config selects the level, encoding and destinations of a logger.
type Config struct {
	Level   string   `json:"log-level"`
	Format  string   `json:"log-format"`
	Outputs []string `json:"log-outputs"`
	// Rotation applies to every output that is a file path.
	Rotation RotationConfig `json:"log-rotation"`
}

// DefaultConfig logs info and above as JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Format:   JSONLogFormat,
		Outputs:  []string{StdErrLogOutput},
		Rotation: DefaultRotationConfig(),
	}
}

// NewLogger builds a logger that writes to every configured output.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logutil: unknown log level %q", cfg.Level)
	}

	encCfg := logutil.DefaultZapLoggerConfig.EncoderConfig
	var enc zapcore.Encoder
	switch cfg.Format {
	case "", JSONLogFormat:
		enc = zapcore.NewJSONEncoder(encCfg)
	case ConsoleLogFormat:
		encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logutil: unknown log format %q", cfg.Format)
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{StdErrLogOutput}
	}
	level := zap.NewAtomicLevelAt(lvl)
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, out := range outputs {
		var ws zapcore.WriteSyncer
		switch out {
		case StdErrLogOutput:
			ws = zapcore.Lock(os.Stderr)
		case StdOutLogOutput:
			ws = zapcore.Lock(os.Stdout)
		default:
			ws = zapcore.AddSync(cfg.Rotation.writer(out))
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), ws, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}
