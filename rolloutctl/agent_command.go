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

package rolloutctl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"
	"go.uber.org/zap"

	"go.etcd.io/rollout/config"
	"go.etcd.io/rollout/coordinator"
	"go.etcd.io/rollout/domain"
	"go.etcd.io/rollout/hostagent"
	"go.etcd.io/rollout/partition"
	"go.etcd.io/rollout/pkg/logutil"
	"go.etcd.io/rollout/remote"
	"go.etcd.io/rollout/updater"
)

var agentConfigPath string

// NewAgentCommand returns the cobra command for "agent".
func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Runs the host agent that keeps local partitions at the ring group version",
		Args:  cobra.NoArgs,
		Run:   agentCommandFunc,
	}
	cmd.Flags().StringVar(&agentConfigPath, "config", "", "Required. Path to the agent config file.")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagFilename("config", "yaml", "yml", "json")
	return cmd
}

func agentCommandFunc(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(agentConfigPath)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, err)
	}
	lg, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = runAgent(ctx, lg, cfg); err != nil && !errors.Is(err, context.Canceled) {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
}

func runAgent(ctx context.Context, lg *zap.Logger, cfg *config.AgentConfig) error {
	cli := mustClient(lg, cfg.Endpoints, cfg.DialTimeout())
	defer cli.Close()

	group, err := coordinator.NewEtcdRingGroup(ctx, lg, cli, cfg.RingGroup, 0,
		coordinator.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		return err
	}
	agent, err := newAgent(lg, cfg, group)
	if err != nil {
		return err
	}

	srv := serveMetrics(lg, cfg.MetricsAddr)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	return agent.Run(ctx)
}

// newAgent wires the partition updaters of the served domain into an agent.
func newAgent(lg *zap.Logger, cfg *config.AgentConfig, group coordinator.RingGroup) (*hostagent.Agent, error) {
	d, err := loadDomain(lg, cfg.CatalogPath, cfg.Domain)
	if err != nil {
		return nil, err
	}
	refresh := func(ctx context.Context) error {
		fresh, err := loadDomain(lg, cfg.CatalogPath, cfg.Domain)
		if err != nil {
			return err
		}
		d.Sync(fresh)
		return nil
	}

	dir := remote.NewDir(lg, cfg.RemoteRoot)
	ups := make([]hostagent.PartitionUpdater, 0, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		if p >= d.NumPartitions() {
			return nil, fmt.Errorf("domain %s has %d partitions, cannot serve partition %d", cfg.Domain, d.NumPartitions(), p)
		}
		c, err := partition.NewCache(lg, filepath.Join(cfg.CacheRoot, cfg.Domain, strconv.Itoa(p)), nil)
		if err != nil {
			return nil, err
		}
		ups = append(ups, updater.New(lg, d, p, dir.Partition(cfg.Domain, p), c))
	}
	return hostagent.New(lg, group, cfg.HostAddr, ups, hostagent.Options{
		Parallelism:     cfg.Parallelism,
		RetryInitial:    cfg.RetryInitial(),
		RetryMaxElapsed: cfg.RetryMaxElapsed(),
		ResyncInterval:  cfg.ResyncInterval(),
		Refresh:         refresh,
	}), nil
}

// loadDomain reads a snapshot of the domain. The catalog is closed again
// so the builder can open it for writing.
func loadDomain(lg *zap.Logger, path, name string) (*domain.Memory, error) {
	cat, err := domain.OpenCatalog(lg, path, true)
	if err != nil {
		return nil, err
	}
	defer cat.Close()
	return cat.Domain(name)
}

func serveMetrics(lg *zap.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		lg.Info("serving metrics", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}
