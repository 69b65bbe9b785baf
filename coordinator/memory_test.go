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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go.etcd.io/rollout/failure"
)

func TestMemoryRingGroup(t *testing.T) {
	runRingGroupTests(t, func(t *testing.T, initial int64) RingGroup {
		return NewMemoryRingGroup(zaptest.NewLogger(t), "rg", initial)
	})
}

func TestMemoryConcurrentClaims(t *testing.T) {
	g := NewMemoryRingGroup(zaptest.NewLogger(t), "rg", 0)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims []Claim
		busy   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := g.ClaimDeployer(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrClaimBusy)
				busy++
				return
			}
			claims = append(claims, c)
		}()
	}
	wg.Wait()
	require.Len(t, claims, 1)
	assert.Equal(t, 7, busy)
}

func TestMemoryClaimExpires(t *testing.T) {
	fc := clockwork.NewFakeClock()
	g := NewMemoryRingGroup(zaptest.NewLogger(t), "rg", 0, WithClock(fc), WithClaimTTL(10*time.Second))
	ctx := context.Background()

	c1, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.BeginRollout(ctx, c1, 1))

	fc.Advance(5 * time.Second)
	require.NoError(t, g.KeepAlive(c1))
	fc.Advance(9 * time.Second)
	online, err := g.IsDeployerOnline(ctx)
	require.NoError(t, err)
	assert.True(t, online)
	_, err = g.ClaimDeployer(ctx)
	require.ErrorIs(t, err, ErrClaimBusy)

	// the holder stops renewing
	fc.Advance(2 * time.Second)
	online, err = g.IsDeployerOnline(ctx)
	require.NoError(t, err)
	assert.False(t, online)

	err = g.CompleteRollout(ctx, c1)
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, failure.KindNotAuthorized, failure.KindOf(err))

	c2, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.CompleteRollout(ctx, c2))
	require.ErrorIs(t, g.KeepAlive(c1), ErrNotAuthorized)
	// releasing a claim that was taken over does not release the new holder
	require.NoError(t, g.ReleaseDeployer(ctx, c1))
	online, err = g.IsDeployerOnline(ctx)
	require.NoError(t, err)
	assert.True(t, online)

	s, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.CurrentVersion)
}

func TestMemoryStateReadsAreCopies(t *testing.T) {
	g := NewMemoryRingGroup(zaptest.NewLogger(t), "rg", 3)
	ctx := context.Background()
	c, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.BeginRollout(ctx, c, 4))

	s, err := g.State(ctx)
	require.NoError(t, err)
	*s.UpdatingToVersion = 100
	v, ok, err := g.UpdatingToVersion(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), v)
}

func TestMemoryWatchKeepsStateChangesWhenFull(t *testing.T) {
	g := NewMemoryRingGroup(zaptest.NewLogger(t), "rg", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evc := g.Watch(ctx)

	// a reader busy elsewhere lets host reports fill its buffer
	for i := 0; i < watchBufferSize; i++ {
		require.NoError(t, g.ReportHostVersion(ctx, fmt.Sprintf("10.0.0.%d:12345", i), 0))
	}
	c, err := g.ClaimDeployer(ctx)
	require.NoError(t, err)
	require.NoError(t, g.BeginRollout(ctx, c, 1))

	ev := waitEvent(t, evc, EventStateChanged)
	v, ok := ev.State.Target()
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	require.NoError(t, g.CompleteRollout(ctx, c))
	ev = waitEvent(t, evc, EventStateChanged)
	assert.Equal(t, State{CurrentVersion: 1}, ev.State)
}
