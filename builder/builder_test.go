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

package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/domain"
	"go.etcd.io/rollout/partition"
	"go.etcd.io/rollout/remote"
	"go.etcd.io/rollout/updater"
)

type env struct {
	dir     string
	config  string
	catalog string
	output  string
}

func newEnv(t *testing.T, delta bool) *env {
	dir := t.TempDir()
	e := &env{
		dir:     dir,
		config:  filepath.Join(dir, "build.yaml"),
		catalog: filepath.Join(dir, "catalog.db"),
		output:  filepath.Join(dir, "out"),
	}
	cfg := fmt.Sprintf("num-partitions: 3\ndelta: %t\ncatalog-path: %s\n", delta, e.catalog)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))
	return e
}

func (e *env) input(t *testing.T, name string, records ...string) string {
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(records, "\n")+"\n"), 0o600))
	return p
}

func (e *env) domain(t *testing.T) *domain.Memory {
	cat, err := domain.OpenCatalog(zaptest.NewLogger(t), e.catalog, true)
	require.NoError(t, err)
	defer cat.Close()
	d, err := cat.Domain("users")
	require.NoError(t, err)
	return d
}

func numbers(d domain.Domain) []int64 {
	var ns []int64
	for _, v := range d.Versions() {
		ns = append(ns, v.Number)
	}
	return ns
}

func TestPartitionOf(t *testing.T) {
	for _, key := range []string{"", "alice", "bob", "carol"} {
		p := PartitionOf(key, 7)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 7)
		assert.Equal(t, p, PartitionOf(key, 7))
	}
	assert.Equal(t, 0, PartitionOf("alice", 1))
}

func TestRunPublishesEveryRecordOnce(t *testing.T) {
	e := newEnv(t, false)
	records := []string{"alice\t1", "bob\t2", "carol\t3", "dave\t4", "erin\t5"}
	b := New(zaptest.NewLogger(t), NewLocalRunner(zaptest.NewLogger(t)))

	v, err := b.Run(context.Background(), "users", e.config, e.input(t, "in", records...), e.output)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Number)

	out := remote.NewDir(zaptest.NewLogger(t), e.output)
	var got []string
	for p := 0; p < 3; p++ {
		data, err := out.Partition("users", p).Fetch(context.Background(), artifact.Ref{Version: 0, Kind: artifact.Base})
		require.NoError(t, err)
		for _, rec := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
			if rec == "" {
				continue
			}
			key, _, _ := strings.Cut(rec, "\t")
			assert.Equal(t, p, PartitionOf(key, 3), "record %q", rec)
			got = append(got, rec)
		}
	}
	sort.Strings(got)
	assert.Equal(t, records, got)
	assert.Equal(t, []int64{0}, numbers(e.domain(t)))
}

func TestRunKinds(t *testing.T) {
	tests := []struct {
		name  string
		delta bool
		want  []artifact.Kind
	}{
		{name: "full", delta: false, want: []artifact.Kind{artifact.Base, artifact.Base, artifact.Base}},
		{name: "delta", delta: true, want: []artifact.Kind{artifact.Base, artifact.Delta, artifact.Delta}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.delta)
			runner := &recordingRunner{JobRunner: NewLocalRunner(zaptest.NewLogger(t))}
			b := New(zaptest.NewLogger(t), runner)
			for i := range tt.want {
				in := e.input(t, fmt.Sprintf("in%d", i), fmt.Sprintf("k%d\tv", i))
				v, err := b.Run(context.Background(), "users", e.config, in, e.output)
				require.NoError(t, err)
				assert.Equal(t, int64(i), v.Number)
			}
			var kinds []artifact.Kind
			for _, j := range runner.jobs {
				kinds = append(kinds, j.Kind)
				assert.Equal(t, 3, j.Partitions)
			}
			assert.Equal(t, tt.want, kinds)
			assert.Equal(t, []int64{0, 1, 2}, numbers(e.domain(t)))
		})
	}
}

func TestRunRebasesWhenParentPruned(t *testing.T) {
	e := newEnv(t, true)
	runner := &recordingRunner{JobRunner: NewLocalRunner(zaptest.NewLogger(t))}
	b := New(zaptest.NewLogger(t), runner)
	_, err := b.Run(context.Background(), "users", e.config, e.input(t, "in0", "a\t1"), e.output)
	require.NoError(t, err)

	cat, err := domain.OpenCatalog(zaptest.NewLogger(t), e.catalog, false)
	require.NoError(t, err)
	require.NoError(t, cat.PruneVersion("users", 0))
	require.NoError(t, cat.Close())

	v, err := b.Run(context.Background(), "users", e.config, e.input(t, "in1", "a\t2"), e.output)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Number)
	assert.Equal(t, artifact.Base, runner.jobs[1].Kind)
}

func TestRunFailureRecordsNothing(t *testing.T) {
	e := newEnv(t, false)
	b := New(zaptest.NewLogger(t), NewLocalRunner(zaptest.NewLogger(t)))
	_, err := b.Run(context.Background(), "users", e.config, e.input(t, "bad", "alice\t1", "no-separator"), e.output)
	require.Error(t, err)

	d := e.domain(t)
	assert.Empty(t, numbers(d))
	_, err = os.Stat(filepath.Join(e.output, "users"))
	assert.True(t, os.IsNotExist(err))

	errRunner := errors.New("cluster unavailable")
	b = New(zaptest.NewLogger(t), runnerFunc(func(ctx context.Context, job Job) error { return errRunner }))
	_, err = b.Run(context.Background(), "users", e.config, e.input(t, "in", "a\t1"), e.output)
	require.ErrorIs(t, err, errRunner)
	assert.Empty(t, numbers(e.domain(t)))
}

func TestRunDiscardsUnrecordedVersion(t *testing.T) {
	ctx := context.Background()
	lg := zaptest.NewLogger(t)
	e := newEnv(t, true)
	b := New(lg, NewLocalRunner(lg))
	_, err := b.Run(ctx, "users", e.config, e.input(t, "in0", "alice\t1", "bob\t2"), e.output)
	require.NoError(t, err)

	errCatalog := errors.New("catalog write failed")
	b.record = func(cat *domain.Catalog, name string, v domain.Version) error { return errCatalog }
	_, err = b.Run(ctx, "users", e.config, e.input(t, "in1", "alice\t3"), e.output)
	require.ErrorIs(t, err, errCatalog)
	assert.Equal(t, []int64{0}, numbers(e.domain(t)))

	out := remote.NewDir(lg, e.output)
	delta := artifact.Ref{Version: 1, Kind: artifact.Delta}
	for p := 0; p < 3; p++ {
		ok, err := out.Partition("users", p).Exists(ctx, delta)
		require.NoError(t, err)
		assert.False(t, ok, "partition %d", p)
	}

	// the number is built again, this time as a base
	cfg := fmt.Sprintf("num-partitions: 3\ndelta: false\ncatalog-path: %s\n", e.catalog)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))
	b.record = (*domain.Catalog).AddVersion
	v, err := b.Run(ctx, "users", e.config, e.input(t, "in1b", "alice\t3"), e.output)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Number)
	for p := 0; p < 3; p++ {
		s := out.Partition("users", p)
		ok, err := s.Exists(ctx, delta)
		require.NoError(t, err)
		assert.False(t, ok, "partition %d", p)
		ok, err = s.Exists(ctx, artifact.Ref{Version: 1, Kind: artifact.Base})
		require.NoError(t, err)
		assert.True(t, ok, "partition %d", p)
	}
}

func TestRunBadConfig(t *testing.T) {
	e := newEnv(t, false)
	require.NoError(t, os.WriteFile(e.config, []byte("num-partitions: 0\n"), 0o600))
	b := New(zaptest.NewLogger(t), NewLocalRunner(zaptest.NewLogger(t)))
	_, err := b.Run(context.Background(), "users", e.config, e.input(t, "in", "a\t1"), e.output)
	require.Error(t, err)
}

// TestBuiltVersionsServe checks that a partition cache updated from the
// builder's output holds the merged records.
func TestBuiltVersionsServe(t *testing.T) {
	e := newEnv(t, true)
	b := New(zaptest.NewLogger(t), NewLocalRunner(zaptest.NewLogger(t)))
	ctx := context.Background()
	_, err := b.Run(ctx, "users", e.config, e.input(t, "in0", "alice\t1", "bob\t2", "carol\t3"), e.output)
	require.NoError(t, err)
	_, err = b.Run(ctx, "users", e.config, e.input(t, "in1", "alice\t9"), e.output)
	require.NoError(t, err)

	d := e.domain(t)
	out := remote.NewDir(zaptest.NewLogger(t), e.output)
	p := PartitionOf("alice", 3)
	c, err := partition.NewCache(zaptest.NewLogger(t), t.TempDir(), nil)
	require.NoError(t, err)
	u := updater.New(zaptest.NewLogger(t), d, p, out.Partition("users", p), c)

	res, err := u.UpdateTo(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 2)
	data, err := c.Read(1)
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice\t1\n")
	assert.True(t, strings.HasSuffix(string(data), "alice\t9\n"))
}

type recordingRunner struct {
	JobRunner
	jobs []Job
}

func (r *recordingRunner) RunJob(ctx context.Context, job Job) error {
	r.jobs = append(r.jobs, job)
	return r.JobRunner.RunJob(ctx, job)
}

type runnerFunc func(ctx context.Context, job Job) error

func (f runnerFunc) RunJob(ctx context.Context, job Job) error { return f(ctx, job) }
