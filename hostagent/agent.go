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

// Package hostagent keeps the partitions served by one host at the version
// its ring group asks for.
package hostagent

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.etcd.io/rollout/coordinator"
	"go.etcd.io/rollout/failure"
	"go.etcd.io/rollout/updater"
)

const (
	DefaultParallelism     = 4
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMaxElapsed = 2 * time.Minute
	DefaultResyncInterval  = 30 * time.Second

	maxRewatchInterval = 30 * time.Second
)

// PartitionUpdater is satisfied by *updater.Updater.
type PartitionUpdater interface {
	Partition() int
	UpdateTo(ctx context.Context, target int64) (updater.Result, error)
}

type Options struct {
	// Parallelism bounds how many partitions update at once.
	Parallelism     int
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
	// ResyncInterval is how often a failed reconcile is tried again when
	// no ring group change arrives in the meantime.
	ResyncInterval time.Duration
	Clock          clockwork.Clock
	// Refresh, if set, runs before each reconcile. It is used to reload
	// the live version list of the served domain.
	Refresh func(ctx context.Context) error
}

func (o *Options) applyDefaults() {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = DefaultRetryInitial
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = DefaultRetryMaxElapsed
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = DefaultResyncInterval
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Agent drives the partition updaters of one host.
type Agent struct {
	lg       *zap.Logger
	group    coordinator.RingGroup
	addr     string
	updaters []PartitionUpdater
	opts     Options
}

func New(lg *zap.Logger, group coordinator.RingGroup, addr string, updaters []PartitionUpdater, opts Options) *Agent {
	if lg == nil {
		lg = zap.NewNop()
	}
	opts.applyDefaults()
	return &Agent{
		lg:       lg.With(zap.String("host", addr), zap.String("ring-group", group.Name())),
		group:    group,
		addr:     addr,
		updaters: updaters,
		opts:     opts,
	}
}

// Run reconciles once and then again on every ring group state change,
// until ctx is done. A reconcile that failed is tried again every
// ResyncInterval. A closed watch is reopened with backoff, and the host
// reconciles after each reopen since changes may have been missed.
func (a *Agent) Run(ctx context.Context) error {
	if r, err := a.group.RingForHost(ctx, a.addr); err != nil {
		a.lg.Warn("failed to look up ring", zap.Error(err))
	} else if r == nil {
		a.lg.Warn("host does not belong to any ring; the deployer will not wait for it")
	} else {
		a.lg.Info("serving in ring", zap.Int("ring", r.Number))
	}

	resync := a.opts.Clock.NewTicker(a.opts.ResyncInterval)
	defer resync.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.RetryInitial
	bo.MaxInterval = maxRewatchInterval
	bo.MaxElapsedTime = 0

	for {
		evc := a.group.Watch(ctx)
		failed := !a.reconcileLogged(ctx)
		for open := true; open; {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-evc:
				if !ok {
					open = false
					break
				}
				bo.Reset()
				if ev.Type == coordinator.EventStateChanged {
					failed = !a.reconcileLogged(ctx)
				}
			case <-resync.Chan():
				if failed {
					failed = !a.reconcileLogged(ctx)
				}
			}
		}

		wait := bo.NextBackOff()
		a.lg.Warn("ring group watch closed; reopening", zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.opts.Clock.After(wait):
		}
	}
}

// reconcileLogged reports whether the reconcile succeeded.
func (a *Agent) reconcileLogged(ctx context.Context) bool {
	_, err := a.Reconcile(ctx)
	if err != nil && ctx.Err() == nil {
		a.lg.Warn("failed to reconcile host", zap.Error(err))
	}
	return err == nil
}

// Reconcile updates every partition to the version the ring group wants
// served, the rollout target while UPDATING and the current version
// otherwise, then reports that version for this host.
func (a *Agent) Reconcile(ctx context.Context) (int64, error) {
	if a.opts.Refresh != nil {
		if err := a.opts.Refresh(ctx); err != nil {
			return 0, err
		}
	}
	s, err := a.group.State(ctx)
	if err != nil {
		return 0, err
	}
	target := s.CurrentVersion
	if t, ok := s.Target(); ok {
		target = t
	}
	if err = a.UpdateAll(ctx, target); err != nil {
		return target, err
	}
	if err = a.group.ReportHostVersion(ctx, a.addr, target); err != nil {
		return target, err
	}
	a.lg.Info("host serving version", zap.Int64("version", target))
	return target, nil
}

// UpdateAll updates every partition to target. The first partition that
// fails for good cancels the others.
func (a *Agent) UpdateAll(ctx context.Context, target int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Parallelism)
	for _, u := range a.updaters {
		u := u
		g.Go(func() error { return a.update(gctx, u, target) })
	}
	return g.Wait()
}

// update retries retryable failures with exponential backoff. Chain errors
// and other permanent failures are returned at once.
func (a *Agent) update(ctx context.Context, u PartitionUpdater, target int64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.RetryInitial
	bo.MaxElapsedTime = a.opts.RetryMaxElapsed

	op := func() error {
		_, err := u.UpdateTo(ctx, target)
		if err != nil && !failure.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.lg.Warn("retrying partition update",
			zap.Int("partition", u.Partition()),
			zap.Int64("target-version", target),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}
