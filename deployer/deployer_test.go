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

package deployer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go.etcd.io/rollout/coordinator"
	"go.etcd.io/rollout/failure"
)

const pollInterval = 10 * time.Second

func newGroup(t *testing.T, current int64, rings map[int][]string) *coordinator.MemoryRingGroup {
	ctx := context.Background()
	g := coordinator.NewMemoryRingGroup(zaptest.NewLogger(t), "rg", current)
	for n, hosts := range rings {
		_, err := g.AddRing(ctx, n)
		require.NoError(t, err)
		for _, h := range hosts {
			require.NoError(t, g.AddHost(ctx, n, h))
		}
	}
	return g
}

func requireState(t *testing.T, g coordinator.RingGroup, want coordinator.State) {
	t.Helper()
	s, err := g.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.String(), s.String())
}

func requireReleased(t *testing.T, g coordinator.RingGroup) {
	t.Helper()
	online, err := g.IsDeployerOnline(context.Background())
	require.NoError(t, err)
	assert.False(t, online)
}

func TestDeployWaitsForEveryHost(t *testing.T) {
	ctx := context.Background()
	g := newGroup(t, 1, map[int][]string{1: {"a", "b"}, 2: {"c"}})
	fc := clockwork.NewFakeClock()
	d := New(zaptest.NewLogger(t), g, Options{PollInterval: pollInterval, Clock: fc})

	done := make(chan error, 1)
	go func() { done <- d.Deploy(ctx, 2) }()

	fc.BlockUntil(1)
	updating, err := g.IsUpdating(ctx)
	require.NoError(t, err)
	require.True(t, updating)

	require.NoError(t, g.ReportHostVersion(ctx, "a", 2))
	require.NoError(t, g.ReportHostVersion(ctx, "b", 2))
	require.NoError(t, g.ReportHostVersion(ctx, "c", 1))
	pending, err := d.Pending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, pending)

	fc.Advance(pollInterval)
	select {
	case err := <-done:
		t.Fatalf("deploy returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	requireState(t, g, coordinator.State{CurrentVersion: 1, UpdatingToVersion: int64p(2)})

	require.NoError(t, g.ReportHostVersion(ctx, "c", 2))
	fc.Advance(pollInterval)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("deploy did not complete")
	}
	requireState(t, g, coordinator.State{CurrentVersion: 2})
	requireReleased(t, g)
}

func TestDeployWithoutRings(t *testing.T) {
	g := newGroup(t, 0, nil)
	d := New(zaptest.NewLogger(t), g, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, d.Deploy(context.Background(), 3))
	requireState(t, g, coordinator.State{CurrentVersion: 3})
	requireReleased(t, g)
}

func TestDeployAlreadyServingTarget(t *testing.T) {
	g := newGroup(t, 4, map[int][]string{1: {"a"}})
	d := New(zaptest.NewLogger(t), g, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, d.Deploy(context.Background(), 4))
	requireState(t, g, coordinator.State{CurrentVersion: 4})
	requireReleased(t, g)
}

func TestDeployClaimBusy(t *testing.T) {
	ctx := context.Background()
	g := newGroup(t, 0, nil)
	other, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)

	d := New(zaptest.NewLogger(t), g, Options{Clock: clockwork.NewFakeClock()})
	err = d.Deploy(ctx, 1)
	require.ErrorIs(t, err, coordinator.ErrClaimBusy)
	assert.Equal(t, failure.KindClaimBusy, failure.KindOf(err))
	requireState(t, g, coordinator.State{CurrentVersion: 0})

	// the other holder keeps its claim
	require.NoError(t, g.BeginRollout(ctx, other, 1))
}

func TestDeployResumesInterruptedRollout(t *testing.T) {
	ctx := context.Background()
	g := newGroup(t, 1, map[int][]string{1: {"a"}})
	c, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.BeginRollout(ctx, c, 2))
	require.NoError(t, g.ReleaseDeployer(ctx, c))
	require.NoError(t, g.ReportHostVersion(ctx, "a", 2))

	d := New(zaptest.NewLogger(t), g, Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, d.Deploy(ctx, 2))
	requireState(t, g, coordinator.State{CurrentVersion: 2})
}

func TestDeployRejectsOtherTarget(t *testing.T) {
	ctx := context.Background()
	g := newGroup(t, 1, nil)
	c, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.BeginRollout(ctx, c, 2))
	require.NoError(t, g.ReleaseDeployer(ctx, c))

	d := New(zaptest.NewLogger(t), g, Options{Clock: clockwork.NewFakeClock()})
	require.ErrorIs(t, d.Deploy(ctx, 3), coordinator.ErrAlreadyUpdating)
	requireReleased(t, g)
	requireState(t, g, coordinator.State{CurrentVersion: 1, UpdatingToVersion: int64p(2)})
}

func TestDeployCanceledWhileWaiting(t *testing.T) {
	g := newGroup(t, 0, map[int][]string{1: {"a"}})
	fc := clockwork.NewFakeClock()
	d := New(zaptest.NewLogger(t), g, Options{PollInterval: pollInterval, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Deploy(ctx, 1) }()
	fc.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("deploy did not stop")
	}
	requireReleased(t, g)
	// the rollout stays in progress for the next deployer
	requireState(t, g, coordinator.State{CurrentVersion: 0, UpdatingToVersion: int64p(1)})
}

func int64p(v int64) *int64 { return &v }
