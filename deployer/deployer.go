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

// Package deployer rolls a ring group out to a new domain version.
package deployer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.etcd.io/rollout/coordinator"
)

const (
	DefaultPollInterval = time.Second

	releaseTimeout = 5 * time.Second
)

// keepAliver is implemented by ring groups whose claims expire unless
// renewed by the holder.
type keepAliver interface {
	KeepAlive(c coordinator.Claim) error
}

type Options struct {
	// PollInterval is how often host versions are checked while waiting.
	PollInterval time.Duration
	Clock        clockwork.Clock
}

type Deployer struct {
	lg    *zap.Logger
	group coordinator.RingGroup
	opts  Options
}

func New(lg *zap.Logger, group coordinator.RingGroup, opts Options) *Deployer {
	if lg == nil {
		lg = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Deployer{lg: lg.With(zap.String("ring-group", group.Name())), group: group, opts: opts}
}

// Deploy claims the deployer role, moves the ring group to UPDATING(target),
// waits until every host in every ring reports target and completes the
// rollout. A rollout to the same target left behind by a previous deployer
// is resumed. The claim is released on every path; a busy claim is returned
// to the caller without retrying.
func (d *Deployer) Deploy(ctx context.Context, target int64) (err error) {
	c, err := d.group.ClaimDeployer(ctx)
	if err != nil {
		return err
	}
	lg := d.lg.With(zap.String("claim", c.ID()), zap.Int64("target-version", target))
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		err = multierr.Append(err, d.group.ReleaseDeployer(rctx, c))
	}()

	s, err := d.group.State(ctx)
	if err != nil {
		return err
	}
	switch t, updating := s.Target(); {
	case updating && t != target:
		return fmt.Errorf("%w: %s", coordinator.ErrAlreadyUpdating, s)
	case updating:
		lg.Info("resuming rollout", zap.Stringer("state", s))
	case s.CurrentVersion == target:
		lg.Info("ring group already serves target")
		return nil
	default:
		if err = d.group.BeginRollout(ctx, c, target); err != nil {
			return err
		}
		lg.Info("began rollout", zap.Int64("from-version", s.CurrentVersion))
	}

	if err = d.waitForHosts(ctx, c, target); err != nil {
		return err
	}
	if err = d.group.CompleteRollout(ctx, c); err != nil {
		return err
	}
	lg.Info("completed rollout")
	return nil
}

func (d *Deployer) waitForHosts(ctx context.Context, c coordinator.Claim, target int64) error {
	ticker := d.opts.Clock.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	lastPending := -1
	for {
		pending, err := d.Pending(ctx, target)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		if len(pending) != lastPending {
			d.lg.Info("waiting for hosts",
				zap.Int64("target-version", target),
				zap.Int("pending", len(pending)),
				zap.Strings("hosts", pending),
			)
			lastPending = len(pending)
		}
		if ka, ok := d.group.(keepAliver); ok {
			if err = ka.KeepAlive(c); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Pending lists the ring hosts that do not report target yet.
func (d *Deployer) Pending(ctx context.Context, target int64) ([]string, error) {
	rings, err := d.group.Rings(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := d.group.HostVersions(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, r := range rings {
		for _, h := range r.Hosts {
			if v, ok := versions[h]; !ok || v != target {
				pending = append(pending, h)
			}
		}
	}
	sort.Strings(pending)
	return pending, nil
}
