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

package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeStale(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.base", i)), nil, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.base.123%s", i, TmpExt)), nil, 0o600))
	}

	require.NoError(t, PurgeStale(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"0.base", "1.base", "2.base"}, names)
}

func TestPurgeStaleMissingDir(t *testing.T) {
	require.NoError(t, PurgeStale(filepath.Join(t.TempDir(), "missing")))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteAtomic(dir, "a.base", []byte("one")))
	require.NoError(t, WriteAtomic(dir, "a.base", []byte("two")))

	b, err := os.ReadFile(filepath.Join(dir, "a.base"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	names, err := ReadDirExt(dir, TmpExt)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestReadDirExt(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.base", "a.base", "c.delta"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
	names, err := ReadDirExt(dir, ".base")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.base", "b.base"}, names)

	names, err = ReadDirExt(filepath.Join(dir, "missing"), ".base")
	require.NoError(t, err)
	assert.Empty(t, names)
}
