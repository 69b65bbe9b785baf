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

package remote

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.etcd.io/etcd/client/pkg/v3/fileutil"
	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	rfileutil "go.etcd.io/rollout/pkg/fileutil"
)

// Dir is an artifact tree on a shared filesystem, laid out as
// <root>/<domain>/<partition>/<artifact name>.
type Dir struct {
	lg   *zap.Logger
	root string
}

func NewDir(lg *zap.Logger, root string) *Dir {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Dir{lg: lg, root: root}
}

func (d *Dir) Root() string { return d.root }

// PartitionDir returns the directory holding a partition's artifacts.
func (d *Dir) PartitionDir(domainName string, partition int) string {
	return filepath.Join(d.root, domainName, strconv.Itoa(partition))
}

// Partition returns the Store for one partition of a domain.
func (d *Dir) Partition(domainName string, partition int) Store {
	return &dirStore{dir: d.PartitionDir(domainName, partition)}
}

// Publish atomically writes an artifact. It is used by the domain builder.
// An artifact of the other kind left for the same version by an earlier
// build is removed, so every version has exactly one kind.
func (d *Dir) Publish(domainName string, partition int, a artifact.Artifact) error {
	dir := d.PartitionDir(domainName, partition)
	if err := fileutil.TouchDirAll(d.lg, dir); err != nil {
		return err
	}
	err := rfileutil.WriteAtomic(dir, a.Ref.String(), a.Data)
	if err == nil {
		err = d.Remove(domainName, partition, artifact.Ref{Version: a.Version, Kind: a.Kind.Other()})
	}
	if err != nil {
		d.lg.Warn("failed to publish artifact",
			zap.String("domain", domainName),
			zap.Int("partition", partition),
			zap.Stringer("artifact", a.Ref),
			zap.Error(err),
		)
		return err
	}
	d.lg.Debug("published artifact",
		zap.String("domain", domainName),
		zap.Int("partition", partition),
		zap.Stringer("artifact", a.Ref),
		zap.String("size", humanize.Bytes(uint64(len(a.Data)))),
	)
	return nil
}

// Remove deletes an artifact if present.
func (d *Dir) Remove(domainName string, partition int, ref artifact.Ref) error {
	err := os.Remove(filepath.Join(d.PartitionDir(domainName, partition), ref.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

type dirStore struct {
	dir string
}

func (s *dirStore) Exists(ctx context.Context, ref artifact.Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir, ref.String()))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *dirStore) Fetch(ctx context.Context, ref artifact.Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, ref.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}
