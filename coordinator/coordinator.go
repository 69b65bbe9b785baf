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

// Package coordinator tracks which domain version a ring group serves and
// which version it is rolling out to, and arbitrates the single deployer
// allowed to change them.
//
// A ring group is either STEADY at its current version or UPDATING from
// its current version to a target. Only the holder of the deployer claim
// may move it between the two. Claims are bound to the liveness of their
// holder so a crashed deployer never blocks the group forever.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/rollout/failure"
)

var (
	ErrNotAuthorized   = errors.New("coordinator: deployer claim is not held")
	ErrClaimBusy       = errors.New("coordinator: deployer claim is held by another process")
	ErrAlreadyUpdating = errors.New("coordinator: ring group is already updating")
	ErrNotUpdating     = errors.New("coordinator: ring group is not updating")
	ErrSameVersion     = errors.New("coordinator: target version equals current version")
	ErrRingExists      = errors.New("coordinator: ring already exists")
	ErrRingNotFound    = errors.New("coordinator: ring not found")
	ErrHostAssigned    = errors.New("coordinator: host already belongs to a ring")
	ErrStateConflict   = errors.New("coordinator: ring group state changed concurrently")
)

// State is the rollout state of a ring group.
type State struct {
	CurrentVersion int64 `json:"current_version"`
	// UpdatingToVersion is set if and only if the group is UPDATING.
	UpdatingToVersion *int64 `json:"updating_to_version,omitempty"`
}

func (s State) IsUpdating() bool { return s.UpdatingToVersion != nil }

// Target returns the rollout target, if any.
func (s State) Target() (int64, bool) {
	if s.UpdatingToVersion == nil {
		return 0, false
	}
	return *s.UpdatingToVersion, true
}

func (s State) String() string {
	if t, ok := s.Target(); ok {
		return fmt.Sprintf("UPDATING(%d -> %d)", s.CurrentVersion, t)
	}
	return fmt.Sprintf("STEADY(%d)", s.CurrentVersion)
}

func (s State) clone() State {
	if t, ok := s.Target(); ok {
		s.UpdatingToVersion = &t
	}
	return s
}

// begin validates the STEADY -> UPDATING transition.
func begin(s State, target int64) (State, error) {
	if s.IsUpdating() {
		return s, fmt.Errorf("%w: %s", ErrAlreadyUpdating, s)
	}
	if target == s.CurrentVersion {
		return s, fmt.Errorf("%w: %d", ErrSameVersion, target)
	}
	return State{CurrentVersion: s.CurrentVersion, UpdatingToVersion: &target}, nil
}

// complete validates the UPDATING -> STEADY transition.
func complete(s State) (State, error) {
	t, ok := s.Target()
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrNotUpdating, s)
	}
	return State{CurrentVersion: t}, nil
}

// Ring is a replica group of serving hosts.
type Ring struct {
	Number int      `json:"number"`
	Hosts  []string `json:"hosts,omitempty"`
}

// EventType says what changed in a ring group.
type EventType int

const (
	EventStateChanged EventType = iota
	EventRingAdded
	EventHostAdded
	EventHostVersion
	EventDeployerChanged
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventRingAdded:
		return "ring-added"
	case EventHostAdded:
		return "host-added"
	case EventHostVersion:
		return "host-version"
	case EventDeployerChanged:
		return "deployer-changed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a change notification. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType
	State   State
	Ring    int
	Host    string
	Version int64
}

// Claim is a held deployer claim. It is only meaningful to the RingGroup
// that issued it.
type Claim interface {
	ID() string
}

// RingGroup is the rollout coordinator of one ring group.
type RingGroup interface {
	Name() string

	// ClaimDeployer takes the deployer role without blocking. It fails with
	// a KindClaimBusy error when another live claim exists.
	ClaimDeployer(ctx context.Context) (Claim, error)
	// ReleaseDeployer gives up a claim. Releasing a claim that already
	// expired is not an error.
	ReleaseDeployer(ctx context.Context, c Claim) error
	// IsDeployerOnline reports whether a live claim exists.
	IsDeployerOnline(ctx context.Context) (bool, error)

	// BeginRollout moves the group from STEADY to UPDATING(target).
	BeginRollout(ctx context.Context, c Claim, target int64) error
	// CompleteRollout moves the group from UPDATING(target) to
	// STEADY(target). The caller must have confirmed that every host
	// finished updating.
	CompleteRollout(ctx context.Context, c Claim) error

	State(ctx context.Context) (State, error)
	IsUpdating(ctx context.Context) (bool, error)
	UpdatingToVersion(ctx context.Context) (v int64, ok bool, err error)

	AddRing(ctx context.Context, number int) (Ring, error)
	AddHost(ctx context.Context, ring int, addr string) error
	Rings(ctx context.Context) ([]Ring, error)
	// RingForHost returns the ring addr belongs to, or nil.
	RingForHost(ctx context.Context, addr string) (*Ring, error)

	// ReportHostVersion records the version a host serves. The coordinator
	// stores reports but never acts on them.
	ReportHostVersion(ctx context.Context, addr string, version int64) error
	HostVersions(ctx context.Context) (map[string]int64, error)

	// Watch streams change notifications until ctx is done.
	Watch(ctx context.Context) <-chan Event
}

func notAuthorized(op string, err error) error {
	return failure.New(failure.KindNotAuthorized, op, err)
}

func claimBusy(op string, err error) error {
	return failure.New(failure.KindClaimBusy, op, err)
}
