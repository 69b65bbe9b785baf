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

// Package updater moves one partition's local cache to a target domain
// version by fetching and applying the minimal chain of remote artifacts.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/chain"
	"go.etcd.io/rollout/domain"
	"go.etcd.io/rollout/failure"
	"go.etcd.io/rollout/remote"
)

var ErrUpdateInProgress = errors.New("update already in progress")

// Cache is the local partition store driven by an Updater.
// *partition.Cache implements it.
type Cache interface {
	CurrentVersion() (v int64, ok bool, err error)
	Wipe() error
	Apply(a artifact.Artifact) error
	Prune(d domain.Domain, keep int64) ([]int64, error)
}

// Result describes a completed update.
type Result struct {
	Partition int
	// From is the version served before the update; HasFrom is false when
	// the cache was empty.
	From    int64
	HasFrom bool
	To      int64
	// Wiped is set when the cache could not be reused.
	Wiped   bool
	Applied []artifact.Ref
	Pruned  []int64
}

// Updater updates one partition. At most one UpdateTo runs at a time;
// concurrent calls fail with a KindBusy error.
type Updater struct {
	lg        *zap.Logger
	domain    domain.Domain
	partition int
	store     remote.Store
	cache     Cache
	resolver  *chain.Resolver

	mu sync.Mutex
}

func New(lg *zap.Logger, d domain.Domain, partition int, store remote.Store, cache Cache) *Updater {
	if lg == nil {
		lg = zap.NewNop()
	}
	lg = lg.With(zap.String("domain", d.Name()), zap.Int("partition", partition))
	return &Updater{
		lg:        lg,
		domain:    d,
		partition: partition,
		store:     store,
		cache:     cache,
		resolver:  chain.NewResolver(lg, d, store),
	}
}

func (u *Updater) Partition() int { return u.partition }

// UpdateTo brings the partition to target. On failure the cache is left at
// the last version that was fully applied.
func (u *Updater) UpdateTo(ctx context.Context, target int64) (Result, error) {
	if !u.mu.TryLock() {
		return Result{}, failure.New(failure.KindBusy, fmt.Sprintf("update partition %d", u.partition), ErrUpdateInProgress)
	}
	defer u.mu.Unlock()

	start := time.Now()
	res, err := u.updateTo(ctx, target)
	if err != nil {
		updates.WithLabelValues(failure.KindOf(err).String()).Inc()
		u.lg.Warn("failed to update partition",
			zap.Int64("target-version", target),
			zap.Bool("retryable", failure.IsRetryable(err)),
			zap.Error(err),
		)
		return res, err
	}
	updates.WithLabelValues("success").Inc()
	if len(res.Applied) > 0 {
		u.lg.Info("updated partition",
			zap.Int64("target-version", target),
			zap.Int("applied", len(res.Applied)),
			zap.Bool("wiped", res.Wiped),
			zap.Duration("took", time.Since(start)),
		)
	}
	return res, nil
}

func (u *Updater) updateTo(ctx context.Context, target int64) (Result, error) {
	res := Result{Partition: u.partition, To: target}
	cur, ok, err := u.cache.CurrentVersion()
	if err != nil {
		return res, failure.Apply("read current version", err)
	}
	res.From, res.HasFrom = cur, ok
	if ok && cur == target {
		if _, live := u.domain.VersionByNumber(target); !live {
			return res, failure.Chain(fmt.Sprintf("update partition %d", u.partition),
				fmt.Errorf("%w: %d of domain %s", chain.ErrVersionNotLive, target, u.domain.Name()))
		}
		return res, nil
	}

	var (
		plan    []chain.Link
		reached bool
	)
	if ok {
		plan, reached, err = u.resolver.ChainSince(ctx, target, cur)
	} else {
		plan, err = u.resolver.Chain(ctx, target)
	}
	if err != nil {
		return res, err
	}
	if !reached {
		u.lg.Info("discarding partition cache",
			zap.Int64("target-version", target),
			zap.Bool("had-version", ok),
			zap.Int64("cached-version", cur),
			zap.Int64("root-version", plan[0].Version),
		)
		if err := u.cache.Wipe(); err != nil {
			return res, failure.Apply("wipe cache", err)
		}
		cacheWipes.Inc()
		res.Wiped = true
	}

	for _, l := range plan {
		if err := u.fetchAndApply(ctx, l.Ref()); err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, l.Ref())
	}

	pruned, err := u.cache.Prune(u.domain, target)
	if err != nil {
		u.lg.Warn("failed to prune partition cache", zap.Error(err))
	}
	res.Pruned = pruned
	return res, nil
}

func (u *Updater) fetchAndApply(ctx context.Context, ref artifact.Ref) error {
	start := time.Now()
	data, err := u.store.Fetch(ctx, ref)
	if err != nil {
		return failure.Fetch("fetch "+ref.String(), err)
	}
	fetchSec.Observe(time.Since(start).Seconds())
	fetchedBytes.Add(float64(len(data)))

	start = time.Now()
	if err := u.cache.Apply(artifact.Artifact{Ref: ref, Data: data}); err != nil {
		return failure.Apply("apply "+ref.String(), err)
	}
	applySec.Observe(time.Since(start).Seconds())
	u.lg.Debug("applied artifact",
		zap.Stringer("artifact", ref),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
	)
	return nil
}
