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

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.etcd.io/rollout/failure"
)

type fakeClaim struct{}

func (fakeClaim) ID() string { return "forged" }

// runRingGroupTests checks the behavior every RingGroup implementation
// must share. newGroup returns a fresh group at the given version.
func runRingGroupTests(t *testing.T, newGroup func(t *testing.T, initial int64) RingGroup) {
	t.Run("claim exclusivity", func(t *testing.T) {
		g := newGroup(t, 0)
		ctx := context.Background()

		online, err := g.IsDeployerOnline(ctx)
		require.NoError(t, err)
		assert.False(t, online)

		c1, err := g.ClaimDeployer(ctx)
		require.NoError(t, err)
		_, err = g.ClaimDeployer(ctx)
		require.ErrorIs(t, err, ErrClaimBusy)
		assert.Equal(t, failure.KindClaimBusy, failure.KindOf(err))
		assert.True(t, failure.IsRetryable(err))

		online, err = g.IsDeployerOnline(ctx)
		require.NoError(t, err)
		assert.True(t, online)

		require.NoError(t, g.ReleaseDeployer(ctx, c1))
		c2, err := g.ClaimDeployer(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, c1.ID(), c2.ID())
		require.NoError(t, g.ReleaseDeployer(ctx, c2))
	})

	t.Run("mutation requires claim", func(t *testing.T) {
		g := newGroup(t, 0)
		ctx := context.Background()

		err := g.BeginRollout(ctx, fakeClaim{}, 1)
		require.ErrorIs(t, err, ErrNotAuthorized)
		assert.Equal(t, failure.KindNotAuthorized, failure.KindOf(err))
		require.ErrorIs(t, g.BeginRollout(ctx, nil, 1), ErrNotAuthorized)

		c, err := g.ClaimDeployer(ctx)
		require.NoError(t, err)
		require.NoError(t, g.ReleaseDeployer(ctx, c))
		require.ErrorIs(t, g.BeginRollout(ctx, c, 1), ErrNotAuthorized)

		s, err := g.State(ctx)
		require.NoError(t, err)
		assert.False(t, s.IsUpdating())
	})

	t.Run("state machine", func(t *testing.T) {
		g := newGroup(t, 3)
		ctx := context.Background()
		c, err := g.ClaimDeployer(ctx)
		require.NoError(t, err)
		defer g.ReleaseDeployer(ctx, c)

		s, err := g.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, State{CurrentVersion: 3}, s)

		require.ErrorIs(t, g.CompleteRollout(ctx, c), ErrNotUpdating)
		require.ErrorIs(t, g.BeginRollout(ctx, c, 3), ErrSameVersion)

		require.NoError(t, g.BeginRollout(ctx, c, 5))
		updating, err := g.IsUpdating(ctx)
		require.NoError(t, err)
		assert.True(t, updating)
		v, ok, err := g.UpdatingToVersion(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(5), v)

		require.ErrorIs(t, g.BeginRollout(ctx, c, 6), ErrAlreadyUpdating)

		require.NoError(t, g.CompleteRollout(ctx, c))
		s, err = g.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), s.CurrentVersion)
		assert.Nil(t, s.UpdatingToVersion)
		_, ok, err = g.UpdatingToVersion(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("membership", func(t *testing.T) {
		g := newGroup(t, 0)
		ctx := context.Background()

		r, err := g.AddRing(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Number)
		_, err = g.AddRing(ctx, 1)
		require.ErrorIs(t, err, ErrRingExists)
		_, err = g.AddRing(ctx, 2)
		require.NoError(t, err)

		require.NoError(t, g.AddHost(ctx, 1, "10.0.0.2:12345"))
		require.NoError(t, g.AddHost(ctx, 1, "10.0.0.1:12345"))
		require.ErrorIs(t, g.AddHost(ctx, 9, "10.0.0.3:12345"), ErrRingNotFound)
		require.ErrorIs(t, g.AddHost(ctx, 2, "10.0.0.1:12345"), ErrHostAssigned)

		rings, err := g.Rings(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Ring{
			{Number: 1, Hosts: []string{"10.0.0.1:12345", "10.0.0.2:12345"}},
			{Number: 2},
		}, rings)

		owner, err := g.RingForHost(ctx, "10.0.0.2:12345")
		require.NoError(t, err)
		require.NotNil(t, owner)
		assert.Equal(t, 1, owner.Number)
		owner, err = g.RingForHost(ctx, "10.9.9.9:1")
		require.NoError(t, err)
		assert.Nil(t, owner)
	})

	t.Run("host versions", func(t *testing.T) {
		g := newGroup(t, 0)
		ctx := context.Background()
		require.NoError(t, g.ReportHostVersion(ctx, "h1", 4))
		require.NoError(t, g.ReportHostVersion(ctx, "h2", 3))
		require.NoError(t, g.ReportHostVersion(ctx, "h2", 4))
		vs, err := g.HostVersions(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"h1": 4, "h2": 4}, vs)
	})

	t.Run("watch", func(t *testing.T) {
		g := newGroup(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		evc := g.Watch(ctx)

		_, err := g.AddRing(ctx, 7)
		require.NoError(t, err)
		ev := waitEvent(t, evc, EventRingAdded)
		assert.Equal(t, 7, ev.Ring)

		c, err := g.ClaimDeployer(ctx)
		require.NoError(t, err)
		require.NoError(t, g.BeginRollout(ctx, c, 2))
		ev = waitEvent(t, evc, EventStateChanged)
		v, ok := ev.State.Target()
		require.True(t, ok)
		assert.Equal(t, int64(2), v)
		require.NoError(t, g.ReleaseDeployer(ctx, c))

		cancel()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case _, ok := <-evc:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("watch channel not closed after cancel")
			}
		}
	})
}

func waitEvent(t *testing.T, evc <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-evc:
			require.True(t, ok, "watch channel closed")
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", typ)
		}
	}
}
