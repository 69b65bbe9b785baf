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

// Package chain resolves the parent relationship between the versions of a
// partition from the kinds of artifacts published for them.
package chain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/domain"
	"go.etcd.io/rollout/failure"
	"go.etcd.io/rollout/remote"
)

var (
	ErrParentNotFound       = errors.New("parent not found")
	ErrUndeterminableParent = errors.New("undeterminable parent")
	ErrDeltaAtZero          = errors.New("delta published for version 0")
	ErrVersionNotLive       = errors.New("version is not live")
)

// Link is one step of a chain: a version and the kind of artifact that
// materializes it.
type Link struct {
	Version int64
	Kind    artifact.Kind
}

func (l Link) Ref() artifact.Ref { return artifact.Ref{Version: l.Version, Kind: l.Kind} }

// Resolver computes parents for one partition of a domain.
type Resolver struct {
	lg     *zap.Logger
	domain domain.Domain
	store  remote.Store
}

func NewResolver(lg *zap.Logger, d domain.Domain, s remote.Store) *Resolver {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Resolver{lg: lg, domain: d, store: s}
}

// ParentOf returns the version that v is a delta against, or nil when v
// is materialized by a base.
func (r *Resolver) ParentOf(ctx context.Context, v int64) (*domain.Version, error) {
	_, parent, err := r.resolve(ctx, v)
	return parent, err
}

// Chain returns the links from the root base up to target, in ascending
// version order.
func (r *Resolver) Chain(ctx context.Context, target int64) ([]Link, error) {
	links, _, err := r.walk(ctx, target, 0, false)
	return links, err
}

// ChainSince walks back from target like Chain but stops once it reaches
// version since. reached reports whether since is on target's chain; when
// it is, links holds the versions strictly after since. Otherwise links is
// the full chain from the root base.
func (r *Resolver) ChainSince(ctx context.Context, target, since int64) (links []Link, reached bool, err error) {
	return r.walk(ctx, target, since, true)
}

func (r *Resolver) walk(ctx context.Context, target, stop int64, hasStop bool) ([]Link, bool, error) {
	if _, ok := r.domain.VersionByNumber(target); !ok {
		return nil, false, failure.Chain(fmt.Sprintf("chain to %d", target),
			fmt.Errorf("%w: %d of domain %s", ErrVersionNotLive, target, r.domain.Name()))
	}
	var (
		rev     []Link
		reached bool
	)
	v := target
	for {
		if hasStop && v == stop {
			reached = true
			break
		}
		l, parent, err := r.resolve(ctx, v)
		if err != nil {
			return nil, false, err
		}
		rev = append(rev, l)
		if parent == nil {
			break
		}
		v = parent.Number
	}
	links := make([]Link, len(rev))
	for i, l := range rev {
		links[len(rev)-1-i] = l
	}
	return links, reached, nil
}

func (r *Resolver) resolve(ctx context.Context, v int64) (Link, *domain.Version, error) {
	op := fmt.Sprintf("parent of %d", v)
	hasBase, err := r.store.Exists(ctx, artifact.Ref{Version: v, Kind: artifact.Base})
	if err != nil {
		return Link{}, nil, failure.Fetch(op, err)
	}
	if hasBase {
		return Link{Version: v, Kind: artifact.Base}, nil, nil
	}
	hasDelta, err := r.store.Exists(ctx, artifact.Ref{Version: v, Kind: artifact.Delta})
	if err != nil {
		return Link{}, nil, failure.Fetch(op, err)
	}
	if !hasDelta {
		return Link{}, nil, failure.Chain(op, fmt.Errorf("%w of version %d of domain %s", ErrUndeterminableParent, v, r.domain.Name()))
	}
	if v <= 0 {
		r.lg.Warn("found delta without possible parent",
			zap.String("domain", r.domain.Name()),
			zap.Int64("version", v),
		)
		return Link{}, nil, failure.Chain(op, ErrDeltaAtZero)
	}
	parent, ok := r.domain.VersionByNumber(v - 1)
	if !ok {
		return Link{}, nil, failure.Chain(op, fmt.Errorf("%w: version %d of domain %s, parent of %d",
			ErrParentNotFound, v-1, r.domain.Name(), v))
	}
	return Link{Version: v, Kind: artifact.Delta}, &parent, nil
}
