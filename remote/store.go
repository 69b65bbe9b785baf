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

// Package remote provides read access to the artifacts the domain builder
// publishes for each partition.
package remote

import (
	"context"
	"errors"

	"go.etcd.io/rollout/artifact"
)

var ErrNotFound = errors.New("remote: artifact not found")

// Store is the read-only view of one partition's remote artifacts.
type Store interface {
	// Exists reports whether the artifact is published.
	Exists(ctx context.Context, ref artifact.Ref) (bool, error)
	// Fetch returns the artifact's content, or ErrNotFound.
	Fetch(ctx context.Context, ref artifact.Ref) ([]byte, error)
}
