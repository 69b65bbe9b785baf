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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const watchBufferSize = 64

// MemoryOption configures a MemoryRingGroup.
type MemoryOption func(*MemoryRingGroup)

// WithClock sets the clock used for claim liveness.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(g *MemoryRingGroup) { g.clock = c }
}

// WithClaimTTL makes claims expire when their holder has not called
// KeepAlive within ttl. Zero disables expiry.
func WithClaimTTL(ttl time.Duration) MemoryOption {
	return func(g *MemoryRingGroup) { g.ttl = ttl }
}

// MemoryRingGroup is a RingGroup kept in process memory. It serves tests
// and single-process deployments.
type MemoryRingGroup struct {
	lg    *zap.Logger
	name  string
	clock clockwork.Clock
	ttl   time.Duration

	// state is read without taking mu.
	state atomic.Pointer[State]

	mu           sync.Mutex
	claim        *memoryClaim
	rings        map[int]*Ring
	hostRing     map[string]int
	hostVersions map[string]int64
	watchers     map[int]*memoryWatcher
	nextWatcher  int
}

// memoryWatcher never loses a state change. When its buffer is full the
// latest state change waits in pending and is delivered by the watcher's
// own goroutine once the reader catches up.
type memoryWatcher struct {
	ch      chan Event
	pending *Event
	kick    chan struct{}
}

type memoryClaim struct {
	id       string
	lastSeen time.Time
}

func (c *memoryClaim) ID() string { return c.id }

// NewMemoryRingGroup returns a STEADY ring group at initialVersion.
func NewMemoryRingGroup(lg *zap.Logger, name string, initialVersion int64, opts ...MemoryOption) *MemoryRingGroup {
	if lg == nil {
		lg = zap.NewNop()
	}
	g := &MemoryRingGroup{
		lg:           lg.With(zap.String("ring-group", name)),
		name:         name,
		clock:        clockwork.NewRealClock(),
		rings:        make(map[int]*Ring),
		hostRing:     make(map[string]int),
		hostVersions: make(map[string]int64),
		watchers:     make(map[int]*memoryWatcher),
	}
	for _, opt := range opts {
		opt(g)
	}
	s := State{CurrentVersion: initialVersion}
	g.state.Store(&s)
	observeState(name, s)
	return g
}

func (g *MemoryRingGroup) Name() string { return g.name }

func (g *MemoryRingGroup) ClaimDeployer(ctx context.Context) (Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claim != nil {
		if g.liveLocked(g.claim) {
			claimsTotal.WithLabelValues(g.name, "busy").Inc()
			return nil, claimBusy("claim deployer", ErrClaimBusy)
		}
		g.lg.Warn("deployer claim expired", zap.String("claim", g.claim.id))
	}
	c := &memoryClaim{id: uuid.NewString(), lastSeen: g.clock.Now()}
	g.claim = c
	claimsTotal.WithLabelValues(g.name, "acquired").Inc()
	g.lg.Info("claimed deployer", zap.String("claim", c.id))
	g.notifyLocked(Event{Type: EventDeployerChanged})
	return c, nil
}

// KeepAlive renews the liveness of a held claim.
func (g *MemoryRingGroup) KeepAlive(c Claim) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	mc, err := g.validLocked(c, "keep alive")
	if err != nil {
		return err
	}
	mc.lastSeen = g.clock.Now()
	return nil
}

func (g *MemoryRingGroup) ReleaseDeployer(ctx context.Context, c Claim) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	mc, ok := c.(*memoryClaim)
	if !ok {
		return notAuthorized("release deployer", ErrNotAuthorized)
	}
	if g.claim != mc {
		// expired and possibly taken over
		return nil
	}
	g.claim = nil
	g.lg.Info("released deployer", zap.String("claim", mc.id))
	g.notifyLocked(Event{Type: EventDeployerChanged})
	return nil
}

func (g *MemoryRingGroup) IsDeployerOnline(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claim != nil && g.liveLocked(g.claim), nil
}

func (g *MemoryRingGroup) BeginRollout(ctx context.Context, c Claim, target int64) error {
	return g.mutate(c, "begin rollout", func(s State) (State, error) { return begin(s, target) })
}

func (g *MemoryRingGroup) CompleteRollout(ctx context.Context, c Claim) error {
	return g.mutate(c, "complete rollout", complete)
}

func (g *MemoryRingGroup) mutate(c Claim, op string, fn func(State) (State, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.validLocked(c, op); err != nil {
		return err
	}
	cur := *g.state.Load()
	next, err := fn(cur)
	if err != nil {
		return err
	}
	g.state.Store(&next)
	observeState(g.name, next)
	g.lg.Info("ring group state changed", zap.Stringer("from", cur), zap.Stringer("to", next))
	g.notifyLocked(Event{Type: EventStateChanged, State: next.clone()})
	return nil
}

func (g *MemoryRingGroup) State(ctx context.Context) (State, error) {
	return g.state.Load().clone(), nil
}

func (g *MemoryRingGroup) IsUpdating(ctx context.Context) (bool, error) {
	return g.state.Load().IsUpdating(), nil
}

func (g *MemoryRingGroup) UpdatingToVersion(ctx context.Context) (int64, bool, error) {
	v, ok := g.state.Load().Target()
	return v, ok, nil
}

func (g *MemoryRingGroup) AddRing(ctx context.Context, number int) (Ring, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rings[number]; ok {
		return Ring{}, fmt.Errorf("%w: %d", ErrRingExists, number)
	}
	r := &Ring{Number: number}
	g.rings[number] = r
	g.notifyLocked(Event{Type: EventRingAdded, Ring: number})
	return *r, nil
}

func (g *MemoryRingGroup) AddHost(ctx context.Context, ring int, addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rings[ring]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRingNotFound, ring)
	}
	if n, ok := g.hostRing[addr]; ok {
		return fmt.Errorf("%w: %s in ring %d", ErrHostAssigned, addr, n)
	}
	r.Hosts = append(r.Hosts, addr)
	sort.Strings(r.Hosts)
	g.hostRing[addr] = ring
	g.notifyLocked(Event{Type: EventHostAdded, Ring: ring, Host: addr})
	return nil
}

func (g *MemoryRingGroup) Rings(ctx context.Context) ([]Ring, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Ring, 0, len(g.rings))
	for _, r := range g.rings {
		out = append(out, copyRing(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (g *MemoryRingGroup) RingForHost(ctx context.Context, addr string) (*Ring, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.hostRing[addr]
	if !ok {
		return nil, nil
	}
	r := copyRing(g.rings[n])
	return &r, nil
}

func (g *MemoryRingGroup) ReportHostVersion(ctx context.Context, addr string, version int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hostVersions[addr] = version
	g.notifyLocked(Event{Type: EventHostVersion, Host: addr, Version: version})
	return nil
}

func (g *MemoryRingGroup) HostVersions(ctx context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.hostVersions))
	for k, v := range g.hostVersions {
		out[k] = v
	}
	return out, nil
}

func (g *MemoryRingGroup) Watch(ctx context.Context) <-chan Event {
	w := &memoryWatcher{
		ch:   make(chan Event, watchBufferSize),
		kick: make(chan struct{}, 1),
	}
	g.mu.Lock()
	id := g.nextWatcher
	g.nextWatcher++
	g.watchers[id] = w
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.watchers, id)
			close(w.ch)
			g.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.kick:
			}
			g.mu.Lock()
			ev := w.pending
			g.mu.Unlock()
			if ev == nil {
				continue
			}
			select {
			case w.ch <- *ev:
			case <-ctx.Done():
				return
			}
			g.mu.Lock()
			if w.pending == ev {
				w.pending = nil
			}
			g.mu.Unlock()
		}
	}()
	return w.ch
}

func (g *MemoryRingGroup) notifyLocked(ev Event) {
	for id, w := range g.watchers {
		if ev.Type == EventStateChanged && w.pending != nil {
			// keep state changes in order behind the one already waiting
			w.setPendingLocked(ev)
			continue
		}
		select {
		case w.ch <- ev:
		default:
			if ev.Type == EventStateChanged {
				w.setPendingLocked(ev)
				continue
			}
			g.lg.Warn("dropped ring group event for slow watcher",
				zap.Int("watcher", id),
				zap.Stringer("event", ev.Type),
			)
		}
	}
}

func (w *memoryWatcher) setPendingLocked(ev Event) {
	w.pending = &ev
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (g *MemoryRingGroup) liveLocked(c *memoryClaim) bool {
	return g.ttl == 0 || g.clock.Since(c.lastSeen) < g.ttl
}

func (g *MemoryRingGroup) validLocked(c Claim, op string) (*memoryClaim, error) {
	mc, ok := c.(*memoryClaim)
	if !ok || mc == nil || g.claim != mc {
		return nil, notAuthorized(op, ErrNotAuthorized)
	}
	if !g.liveLocked(mc) {
		return nil, notAuthorized(op, fmt.Errorf("%w: claim %s expired", ErrNotAuthorized, mc.id))
	}
	return mc, nil
}

func copyRing(r *Ring) Ring {
	return Ring{Number: r.Number, Hosts: append([]string(nil), r.Hosts...)}
}
