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

// Package builder produces new domain versions from input records and
// registers them in the domain catalog.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.etcd.io/rollout/artifact"
	"go.etcd.io/rollout/domain"
)

// Job is one domain version to produce.
type Job struct {
	Domain     string
	Version    int64
	Partitions int
	// Kind is artifact.Delta when the job only carries changes since
	// Version-1.
	Kind       artifact.Kind
	InputPath  string
	OutputPath string
}

// JobRunner produces the artifacts of a job.
type JobRunner interface {
	RunJob(ctx context.Context, job Job) error
}

// JobDiscarder is implemented by runners that can take back the
// artifacts of a job that was run but never recorded in the catalog.
type JobDiscarder interface {
	DiscardJob(ctx context.Context, job Job) error
}

type Builder struct {
	lg     *zap.Logger
	runner JobRunner
	now    func() time.Time
	record func(cat *domain.Catalog, name string, v domain.Version) error
}

func New(lg *zap.Logger, runner JobRunner) *Builder {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Builder{lg: lg, runner: runner, now: time.Now, record: (*domain.Catalog).AddVersion}
}

// Run builds the next version of domainName from inputPath into
// outputPath. The version is recorded in the catalog only once every
// artifact has been published.
func (b *Builder) Run(ctx context.Context, domainName, configPath, inputPath, outputPath string) (v domain.Version, err error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return v, err
	}
	cat, err := domain.OpenCatalog(b.lg, cfg.CatalogPath, false)
	if err != nil {
		return v, err
	}
	defer cat.Close()

	d, err := cat.Domain(domainName)
	if errors.Is(err, domain.ErrDomainNotFound) {
		if err = cat.CreateDomain(domainName, cfg.NumPartitions); err != nil {
			return v, err
		}
		d, err = cat.Domain(domainName)
	}
	if err != nil {
		return v, err
	}

	next, err := cat.NextVersionNumber(domainName)
	if err != nil {
		return v, err
	}
	job := Job{
		Domain:     domainName,
		Version:    next,
		Partitions: d.NumPartitions(),
		Kind:       artifact.Base,
		InputPath:  inputPath,
		OutputPath: outputPath,
	}
	// a delta needs a live parent
	if _, ok := d.VersionByNumber(next - 1); cfg.Delta && ok {
		job.Kind = artifact.Delta
	}

	lg := b.lg.With(
		zap.String("domain", domainName),
		zap.Int64("version", next),
		zap.Stringer("kind", job.Kind),
	)
	lg.Info("building domain version", zap.Int("partitions", job.Partitions))
	start := b.now()
	if err = b.runner.RunJob(ctx, job); err != nil {
		lg.Warn("failed to build domain version", zap.Error(err))
		return v, fmt.Errorf("build %s version %d: %w", domainName, next, err)
	}

	v = domain.Version{Number: next, CreatedAt: b.now()}
	if err = b.record(cat, domainName, v); err != nil {
		lg.Warn("failed to record domain version", zap.Error(err))
		if dr, ok := b.runner.(JobDiscarder); ok {
			err = multierr.Append(err, dr.DiscardJob(ctx, job))
		}
		return domain.Version{}, fmt.Errorf("record %s version %d: %w", domainName, next, err)
	}
	lg.Info("built domain version", zap.Duration("took", b.now().Sub(start)))
	return v, nil
}
