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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// KeyPrefix is the root under which all ring groups are stored.
	KeyPrefix = "/rollout/ringgroups/"

	stateKey    = "state"
	deployerDir = "deployer"
	ringsDir    = "rings/"
	hostsDir    = "hosts/"
	versionsDir = "versions/"

	defaultSessionTTL = 10
)

// EtcdOption configures an EtcdRingGroup.
type EtcdOption func(*EtcdRingGroup)

// WithSessionTTL sets the lease TTL in seconds that binds a deployer claim
// to the liveness of its holder.
func WithSessionTTL(ttl int) EtcdOption {
	return func(g *EtcdRingGroup) { g.ttl = ttl }
}

// EtcdRingGroup is a RingGroup stored in etcd. Deployer claims are
// lease-backed mutexes, so a claim disappears when its holder stops
// renewing the lease.
type EtcdRingGroup struct {
	lg   *zap.Logger
	cli  *clientv3.Client
	name string
	pfx  string
	ttl  int
}

type etcdClaim struct {
	s *concurrency.Session
	m *concurrency.Mutex
}

func (c *etcdClaim) ID() string { return c.m.Key() }

// NewEtcdRingGroup opens the ring group name, creating it STEADY at
// initialVersion if it does not exist yet.
func NewEtcdRingGroup(ctx context.Context, lg *zap.Logger, cli *clientv3.Client, name string, initialVersion int64, opts ...EtcdOption) (*EtcdRingGroup, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	g := &EtcdRingGroup{
		lg:   lg.With(zap.String("ring-group", name)),
		cli:  cli,
		name: name,
		pfx:  KeyPrefix + name + "/",
		ttl:  defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(g)
	}

	data, err := json.Marshal(State{CurrentVersion: initialVersion})
	if err != nil {
		return nil, err
	}
	key := g.key(stateKey)
	resp, err := cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("create ring group %q: %w", name, err)
	}
	if resp.Succeeded {
		g.lg.Info("created ring group", zap.Int64("current-version", initialVersion))
	}
	s, err := g.State(ctx)
	if err != nil {
		return nil, err
	}
	observeState(name, s)
	return g, nil
}

func (g *EtcdRingGroup) Name() string { return g.name }

func (g *EtcdRingGroup) key(k string) string { return g.pfx + k }

func (g *EtcdRingGroup) ClaimDeployer(ctx context.Context) (Claim, error) {
	s, err := concurrency.NewSession(g.cli, concurrency.WithTTL(g.ttl))
	if err != nil {
		return nil, fmt.Errorf("claim deployer: %w", err)
	}
	m := concurrency.NewMutex(s, g.key(deployerDir))
	if err = m.TryLock(ctx); err != nil {
		s.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			claimsTotal.WithLabelValues(g.name, "busy").Inc()
			return nil, claimBusy("claim deployer", fmt.Errorf("%w: %v", ErrClaimBusy, err))
		}
		return nil, fmt.Errorf("claim deployer: %w", err)
	}
	claimsTotal.WithLabelValues(g.name, "acquired").Inc()
	g.lg.Info("claimed deployer",
		zap.String("claim", m.Key()),
		zap.Int("session-ttl", g.ttl),
	)
	return &etcdClaim{s: s, m: m}, nil
}

func (g *EtcdRingGroup) ReleaseDeployer(ctx context.Context, c Claim) error {
	ec, ok := c.(*etcdClaim)
	if !ok || ec == nil {
		return notAuthorized("release deployer", ErrNotAuthorized)
	}
	var err error
	if uerr := ec.m.Unlock(ctx); uerr != nil {
		err = fmt.Errorf("release deployer: %w", uerr)
	}
	// revoking the lease drops the lock key even when the unlock failed
	if cerr := ec.s.Close(); cerr != nil {
		if errors.Is(cerr, rpctypes.ErrLeaseNotFound) {
			g.lg.Debug("deployer session already expired", zap.String("claim", ec.m.Key()))
		} else {
			err = multierr.Append(err, fmt.Errorf("revoke deployer session: %w", cerr))
		}
	}
	if err != nil {
		g.lg.Warn("failed to release deployer", zap.String("claim", ec.m.Key()), zap.Error(err))
		return err
	}
	g.lg.Info("released deployer", zap.String("claim", ec.m.Key()))
	return nil
}

func (g *EtcdRingGroup) IsDeployerOnline(ctx context.Context) (bool, error) {
	resp, err := g.cli.Get(ctx, g.key(deployerDir+"/"), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

func (g *EtcdRingGroup) BeginRollout(ctx context.Context, c Claim, target int64) error {
	return g.mutate(ctx, c, "begin rollout", func(s State) (State, error) { return begin(s, target) })
}

func (g *EtcdRingGroup) CompleteRollout(ctx context.Context, c Claim) error {
	return g.mutate(ctx, c, "complete rollout", complete)
}

// mutate applies fn to the stored state. The write only lands while the
// claim still owns the deployer lock and nobody else wrote the state since
// it was read.
func (g *EtcdRingGroup) mutate(ctx context.Context, c Claim, op string, fn func(State) (State, error)) error {
	ec, ok := c.(*etcdClaim)
	if !ok || ec == nil {
		return notAuthorized(op, ErrNotAuthorized)
	}
	select {
	case <-ec.s.Done():
		return notAuthorized(op, fmt.Errorf("%w: session of claim %s expired", ErrNotAuthorized, ec.ID()))
	default:
	}

	key := g.key(stateKey)
	resp, err := g.cli.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	cur, rev, err := decodeState(resp.Kvs)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	tresp, err := g.cli.Txn(ctx).
		If(ec.m.IsOwner(), clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, string(data))).
		Else(clientv3.OpGet(ec.m.Key())).
		Commit()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !tresp.Succeeded {
		if len(tresp.Responses[0].GetResponseRange().Kvs) == 0 {
			return notAuthorized(op, fmt.Errorf("%w: claim %s no longer owns the lock", ErrNotAuthorized, ec.ID()))
		}
		return fmt.Errorf("%s: %w", op, ErrStateConflict)
	}
	observeState(g.name, next)
	g.lg.Info("ring group state changed", zap.Stringer("from", cur), zap.Stringer("to", next))
	return nil
}

func decodeState(kvs []*mvccpb.KeyValue) (State, int64, error) {
	if len(kvs) == 0 {
		return State{}, 0, errors.New("coordinator: ring group state not found")
	}
	var s State
	if err := json.Unmarshal(kvs[0].Value, &s); err != nil {
		return State{}, 0, fmt.Errorf("coordinator: decode state: %w", err)
	}
	return s, kvs[0].ModRevision, nil
}

func (g *EtcdRingGroup) State(ctx context.Context) (State, error) {
	resp, err := g.cli.Get(ctx, g.key(stateKey))
	if err != nil {
		return State{}, err
	}
	s, _, err := decodeState(resp.Kvs)
	return s, err
}

func (g *EtcdRingGroup) IsUpdating(ctx context.Context) (bool, error) {
	s, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	return s.IsUpdating(), nil
}

func (g *EtcdRingGroup) UpdatingToVersion(ctx context.Context) (int64, bool, error) {
	s, err := g.State(ctx)
	if err != nil {
		return 0, false, err
	}
	v, ok := s.Target()
	return v, ok, nil
}

func ringKey(number int) string { return fmt.Sprintf("%s%08d", ringsDir, number) }

func (g *EtcdRingGroup) AddRing(ctx context.Context, number int) (Ring, error) {
	key := g.key(ringKey(number))
	resp, err := g.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, strconv.Itoa(number))).
		Commit()
	if err != nil {
		return Ring{}, err
	}
	if !resp.Succeeded {
		return Ring{}, fmt.Errorf("%w: %d", ErrRingExists, number)
	}
	return Ring{Number: number}, nil
}

func (g *EtcdRingGroup) AddHost(ctx context.Context, ring int, addr string) error {
	rkey, hkey := g.key(ringKey(ring)), g.key(hostsDir+addr)
	resp, err := g.cli.Txn(ctx).
		If(
			clientv3.Compare(clientv3.CreateRevision(rkey), ">", 0),
			clientv3.Compare(clientv3.CreateRevision(hkey), "=", 0),
		).
		Then(clientv3.OpPut(hkey, strconv.Itoa(ring))).
		Else(clientv3.OpGet(rkey), clientv3.OpGet(hkey)).
		Commit()
	if err != nil {
		return err
	}
	if resp.Succeeded {
		return nil
	}
	if len(resp.Responses[0].GetResponseRange().Kvs) == 0 {
		return fmt.Errorf("%w: %d", ErrRingNotFound, ring)
	}
	owner := ""
	if kvs := resp.Responses[1].GetResponseRange().Kvs; len(kvs) > 0 {
		owner = string(kvs[0].Value)
	}
	return fmt.Errorf("%w: %s in ring %s", ErrHostAssigned, addr, owner)
}

// Rings reads rings and host assignments from a single revision.
func (g *EtcdRingGroup) Rings(ctx context.Context) ([]Ring, error) {
	resp, err := g.cli.Txn(ctx).
		Then(
			clientv3.OpGet(g.key(ringsDir), clientv3.WithPrefix()),
			clientv3.OpGet(g.key(hostsDir), clientv3.WithPrefix()),
		).
		Commit()
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]*Ring)
	for _, kv := range resp.Responses[0].GetResponseRange().Kvs {
		n, err := strconv.Atoi(string(kv.Value))
		if err != nil {
			return nil, fmt.Errorf("coordinator: bad ring %q: %w", kv.Key, err)
		}
		byNumber[n] = &Ring{Number: n}
	}
	for _, kv := range resp.Responses[1].GetResponseRange().Kvs {
		n, err := strconv.Atoi(string(kv.Value))
		if err != nil {
			return nil, fmt.Errorf("coordinator: bad host %q: %w", kv.Key, err)
		}
		r, ok := byNumber[n]
		if !ok {
			continue
		}
		r.Hosts = append(r.Hosts, strings.TrimPrefix(string(kv.Key), g.key(hostsDir)))
	}
	out := make([]Ring, 0, len(byNumber))
	for _, r := range byNumber {
		sort.Strings(r.Hosts)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (g *EtcdRingGroup) RingForHost(ctx context.Context, addr string) (*Ring, error) {
	resp, err := g.cli.Get(ctx, g.key(hostsDir+addr))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(string(resp.Kvs[0].Value))
	if err != nil {
		return nil, fmt.Errorf("coordinator: bad host %q: %w", addr, err)
	}
	rings, err := g.Rings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rings {
		if rings[i].Number == n {
			return &rings[i], nil
		}
	}
	return nil, nil
}

func (g *EtcdRingGroup) ReportHostVersion(ctx context.Context, addr string, version int64) error {
	_, err := g.cli.Put(ctx, g.key(versionsDir+addr), strconv.FormatInt(version, 10))
	return err
}

func (g *EtcdRingGroup) HostVersions(ctx context.Context) (map[string]int64, error) {
	pfx := g.key(versionsDir)
	resp, err := g.cli.Get(ctx, pfx, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		v, err := strconv.ParseInt(string(kv.Value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinator: bad host version %q: %w", kv.Key, err)
		}
		out[strings.TrimPrefix(string(kv.Key), pfx)] = v
	}
	return out, nil
}

// Watch streams changes made after it was called.
func (g *EtcdRingGroup) Watch(ctx context.Context) <-chan Event {
	out := make(chan Event, watchBufferSize)
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if resp, err := g.cli.Get(ctx, g.key(stateKey), clientv3.WithCountOnly()); err == nil {
		opts = append(opts, clientv3.WithRev(resp.Header.Revision+1))
	} else {
		g.lg.Warn("failed to read watch start revision", zap.Error(err))
	}
	wch := g.cli.Watch(clientv3.WithRequireLeader(ctx), g.pfx, opts...)

	go func() {
		defer close(out)
		for wr := range wch {
			if err := wr.Err(); err != nil {
				g.lg.Warn("ring group watch failed", zap.Error(err))
				return
			}
			for _, e := range wr.Events {
				ev, ok := g.translate(e)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (g *EtcdRingGroup) translate(e *clientv3.Event) (Event, bool) {
	key := strings.TrimPrefix(string(e.Kv.Key), g.pfx)
	switch {
	case strings.HasPrefix(key, deployerDir+"/"):
		return Event{Type: EventDeployerChanged}, true
	case e.Type != mvccpb.PUT:
		return Event{}, false
	case key == stateKey:
		var s State
		if err := json.Unmarshal(e.Kv.Value, &s); err != nil {
			g.lg.Warn("failed to decode watched state", zap.Error(err))
			return Event{}, false
		}
		return Event{Type: EventStateChanged, State: s}, true
	case strings.HasPrefix(key, ringsDir):
		n, err := strconv.Atoi(string(e.Kv.Value))
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventRingAdded, Ring: n}, true
	case strings.HasPrefix(key, hostsDir):
		n, err := strconv.Atoi(string(e.Kv.Value))
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventHostAdded, Ring: n, Host: strings.TrimPrefix(key, hostsDir)}, true
	case strings.HasPrefix(key, versionsDir):
		v, err := strconv.ParseInt(string(e.Kv.Value), 10, 64)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventHostVersion, Host: strings.TrimPrefix(key, versionsDir), Version: v}, true
	}
	return Event{}, false
}
