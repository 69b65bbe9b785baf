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

package builder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/remote"
)

// LocalRunner builds a job in process. Input records are tab separated
// key/value lines; each record goes to the partition chosen by the FNV-1a
// hash of its key. One artifact per partition is published under the
// job's output path, including empty ones.
type LocalRunner struct {
	lg *zap.Logger
}

func NewLocalRunner(lg *zap.Logger) *LocalRunner {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LocalRunner{lg: lg}
}

// PartitionOf returns the partition a key belongs to.
func PartitionOf(key string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

func (r *LocalRunner) RunJob(ctx context.Context, job Job) (err error) {
	bufs, n, err := r.partition(ctx, job)
	if err != nil {
		return err
	}

	out := remote.NewDir(r.lg, job.OutputPath)
	ref := artifact.Ref{Version: job.Version, Kind: job.Kind}
	var published []int
	defer func() {
		if err == nil {
			return
		}
		for _, p := range published {
			err = multierr.Append(err, out.Remove(job.Domain, p, ref))
		}
	}()
	var size int
	for p, buf := range bufs {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = out.Publish(job.Domain, p, artifact.Artifact{Ref: ref, Data: buf.Bytes()}); err != nil {
			return err
		}
		published = append(published, p)
		size += buf.Len()
	}
	r.lg.Info("published domain version",
		zap.String("domain", job.Domain),
		zap.Stringer("artifact", ref),
		zap.Int("records", n),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return nil
}

// DiscardJob removes every artifact the job published.
func (r *LocalRunner) DiscardJob(ctx context.Context, job Job) error {
	out := remote.NewDir(r.lg, job.OutputPath)
	ref := artifact.Ref{Version: job.Version, Kind: job.Kind}
	var err error
	for p := 0; p < job.Partitions; p++ {
		err = multierr.Append(err, out.Remove(job.Domain, p, ref))
	}
	if err == nil {
		r.lg.Info("discarded domain version",
			zap.String("domain", job.Domain),
			zap.Stringer("artifact", ref),
		)
	}
	return err
}

func (r *LocalRunner) partition(ctx context.Context, job Job) ([]*bytes.Buffer, int, error) {
	if job.Partitions <= 0 {
		return nil, 0, fmt.Errorf("builder: invalid partition count %d", job.Partitions)
	}
	f, err := os.Open(job.InputPath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	bufs := make([]*bytes.Buffer, job.Partitions)
	for i := range bufs {
		bufs[i] = &bytes.Buffer{}
	}
	n := 0
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		rec := sc.Text()
		if rec == "" {
			continue
		}
		key, _, ok := strings.Cut(rec, "\t")
		if !ok {
			return nil, 0, fmt.Errorf("builder: %s:%d: record has no tab separator", job.InputPath, line)
		}
		b := bufs[PartitionOf(key, job.Partitions)]
		b.WriteString(rec)
		b.WriteByte('\n')
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return bufs, n, nil
}
