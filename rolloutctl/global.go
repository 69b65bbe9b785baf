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

// Package rolloutctl implements the rolloutctl commands.
package rolloutctl

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/pkg/v3/cobrautl"
	"go.uber.org/zap"

	"go.etcd.io/rollout/coordinator"
	"go.etcd.io/rollout/pkg/logutil"
)

// GlobalFlags are flags that defined globally
// and are inherited to all sub-commands.
type GlobalFlags struct {
	Endpoints      []string
	DialTimeout    time.Duration
	CommandTimeOut time.Duration
	RingGroup      string
	SessionTTL     int
	LogLevel       string
}

var globalFlags GlobalFlags

func RegisterGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringSliceVar(&globalFlags.Endpoints, "endpoints", []string{"127.0.0.1:2379"}, "etcd endpoints holding the ring groups")
	cmd.PersistentFlags().DurationVar(&globalFlags.DialTimeout, "dial-timeout", 2*time.Second, "dial timeout for client connections")
	cmd.PersistentFlags().DurationVar(&globalFlags.CommandTimeOut, "command-timeout", 5*time.Second, "timeout for short running command (excluding dial timeout)")
	cmd.PersistentFlags().StringVar(&globalFlags.RingGroup, "ring-group", "default", "name of the ring group")
	cmd.PersistentFlags().IntVar(&globalFlags.SessionTTL, "session-ttl", 10, "lease TTL in seconds of the deployer claim")
	cmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func getLogger() *zap.Logger {
	cfg := logutil.DefaultConfig()
	cfg.Level = globalFlags.LogLevel
	cfg.Format = logutil.ConsoleLogFormat
	lg, err := logutil.NewLogger(cfg)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, err)
	}
	return lg
}

func mustClient(lg *zap.Logger, endpoints []string, dialTimeout time.Duration) *clientv3.Client {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      lg,
	})
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadConnection, err)
	}
	return cli
}

// mustRingGroupFromCmd opens the ring group named by the global flags. The
// returned func closes the client.
func mustRingGroupFromCmd(lg *zap.Logger) (*coordinator.EtcdRingGroup, func()) {
	cli := mustClient(lg, globalFlags.Endpoints, globalFlags.DialTimeout)
	ctx, cancel := commandCtx()
	defer cancel()
	g, err := coordinator.NewEtcdRingGroup(ctx, lg, cli, globalFlags.RingGroup, 0,
		coordinator.WithSessionTTL(globalFlags.SessionTTL))
	if err != nil {
		cli.Close()
		cobrautl.ExitWithError(cobrautl.ExitBadConnection, err)
	}
	return g, func() { cli.Close() }
}

func commandCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), globalFlags.CommandTimeOut)
}
