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

// Package partition materializes a partition's artifacts on local disk.
//
// The cache only ever holds bases. Applying a delta for version v merges it
// into the cached base of v-1 and atomically writes the base of v, so the
// highest cached base is always the version the partition can serve.
package partition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/domain"
	rfileutil "go.etcd.io/rollout/pkg/fileutil"
)

var (
	ErrMissingParent = errors.New("partition: parent base of delta is not cached")
	ErrNotCached     = errors.New("partition: version is not cached")
)

// Merger folds a delta into its parent base, producing the next base.
type Merger interface {
	Merge(base, delta []byte) ([]byte, error)
}

// MergeFunc adapts a function to Merger.
type MergeFunc func(base, delta []byte) ([]byte, error)

func (f MergeFunc) Merge(base, delta []byte) ([]byte, error) { return f(base, delta) }

// ConcatMerger appends the delta to the base. It suits log-structured
// artifacts where later records shadow earlier ones.
var ConcatMerger Merger = MergeFunc(func(base, delta []byte) ([]byte, error) {
	out := make([]byte, 0, len(base)+len(delta))
	out = append(out, base...)
	return append(out, delta...), nil
})

// Cache is the local store of one partition.
type Cache struct {
	lg     *zap.Logger
	dir    string
	merger Merger
}

// NewCache opens the cache rooted at dir, creating it if needed and
// discarding staging files of interrupted applies.
func NewCache(lg *zap.Logger, dir string, m Merger) (*Cache, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if m == nil {
		m = ConcatMerger
	}
	if err := fileutil.TouchDirAll(lg, dir); err != nil {
		return nil, err
	}
	if err := rfileutil.PurgeStale(dir); err != nil {
		return nil, err
	}
	return &Cache{lg: lg, dir: dir, merger: m}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Bases returns the versions of all cached bases in ascending order.
func (c *Cache) Bases() ([]int64, error) {
	names, err := rfileutil.ReadDirExt(c.dir, artifact.BaseExt)
	if err != nil {
		return nil, err
	}
	vs := make([]int64, 0, len(names))
	for _, n := range names {
		ref, err := artifact.Parse(n)
		if err != nil {
			c.lg.Warn("ignored unexpected file in partition cache", zap.String("dir", c.dir), zap.String("name", n))
			continue
		}
		vs = append(vs, ref.Version)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs, nil
}

// CurrentVersion returns the highest cached base. ok is false when the
// cache is empty.
func (c *Cache) CurrentVersion() (v int64, ok bool, err error) {
	vs, err := c.Bases()
	if err != nil || len(vs) == 0 {
		return 0, false, err
	}
	return vs[len(vs)-1], true, nil
}

// CachedVersions resolves the cached bases against d's live versions.
// Versions pruned from d are left out even if their files remain.
func (c *Cache) CachedVersions(d domain.Domain) ([]domain.Version, error) {
	vs, err := c.Bases()
	if err != nil {
		return nil, err
	}
	var out []domain.Version
	for _, n := range vs {
		if v, ok := d.VersionByNumber(n); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Read returns the content of the cached base of version v.
func (c *Cache) Read(v int64) ([]byte, error) {
	b, err := os.ReadFile(c.path(v))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrNotCached, v)
	}
	return b, err
}

// Wipe removes every cached artifact of the partition.
func (c *Cache) Wipe() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return err
	}
	c.lg.Info("wiped partition cache", zap.String("dir", c.dir))
	return fileutil.TouchDirAll(c.lg, c.dir)
}

// Apply materializes a fetched artifact. A base is written as is; a delta
// is merged into the cached base of its parent. Either way the new base
// becomes visible in one rename.
func (c *Cache) Apply(a artifact.Artifact) error {
	var data []byte
	switch a.Kind {
	case artifact.Base:
		data = a.Data
	case artifact.Delta:
		parent, err := c.Read(a.Version - 1)
		if errors.Is(err, ErrNotCached) {
			return fmt.Errorf("%w: delta %d", ErrMissingParent, a.Version)
		}
		if err != nil {
			return err
		}
		if data, err = c.merger.Merge(parent, a.Data); err != nil {
			return fmt.Errorf("merge delta %d: %w", a.Version, err)
		}
	default:
		return fmt.Errorf("partition: unknown artifact kind %v", a.Kind)
	}
	return rfileutil.WriteAtomic(c.dir, artifact.Name(a.Version, artifact.Base), data)
}

// Prune removes cached bases whose versions are no longer live in d. The
// base of version keep is never removed.
func (c *Cache) Prune(d domain.Domain, keep int64) (removed []int64, err error) {
	vs, err := c.Bases()
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		if v == keep {
			continue
		}
		if _, ok := d.VersionByNumber(v); ok {
			continue
		}
		if rerr := os.Remove(c.path(v)); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = multierr.Append(err, rerr)
			continue
		}
		removed = append(removed, v)
	}
	return removed, multierr.Append(err, rfileutil.PurgeStale(c.dir))
}

func (c *Cache) path(v int64) string {
	return filepath.Join(c.dir, artifact.Name(v, artifact.Base))
}
