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

package logutil

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls how file outputs are rotated.
type RotationConfig struct {
	MaxSizeMB  int  `json:"max-size-mb"`
	MaxAgeDays int  `json:"max-age-days"`
	MaxBackups int  `json:"max-backups"`
	LocalTime  bool `json:"local-time"`
	Compress   bool `json:"compress"`
}

func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 100, MaxBackups: 5}
}

func (c RotationConfig) writer(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		LocalTime:  c.LocalTime,
		Compress:   c.Compress,
	}
}
