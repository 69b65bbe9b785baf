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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.etcd.io/rollout/domain"
)

func TestCommandNeedsFourArgs(t *testing.T) {
	cmd := newCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"users", "build.yaml"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Usage:")
}

func TestCommandBuildsVersion(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.db")
	cfg := filepath.Join(dir, "build.yaml")
	in := filepath.Join(dir, "in")
	require.NoError(t, os.WriteFile(cfg, []byte("num-partitions: 2\ncatalog-path: "+catalog+"\n"), 0o600))
	require.NoError(t, os.WriteFile(in, []byte("a\t1\nb\t2\n"), 0o600))

	cmd := newCommand()
	cmd.SetArgs([]string{"users", cfg, in, filepath.Join(dir, "out")})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	cat, err := domain.OpenCatalog(nil, catalog, true)
	require.NoError(t, err)
	defer cat.Close()
	d, err := cat.Domain("users")
	require.NoError(t, err)
	_, ok := d.VersionByNumber(0)
	assert.True(t, ok)
}
