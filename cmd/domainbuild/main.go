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

// domainbuild builds the next version of a domain from an input file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/client/pkg/v3/logutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go.etcd.io/rollout/builder"
)

func newCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "domainbuild <domain name> <config path> <input path> <output path>",
		Short:         "Builds the next version of a domain and records it in the catalog",
		Args:          cobra.ExactArgs(4),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), args[0], args[1], args[2], args[3])
		},
	}
}

func run(ctx context.Context, domainName, configPath, inputPath, outputPath string) error {
	lcfg := logutil.DefaultZapLoggerConfig
	lcfg.Encoding = "console"
	lcfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	lg, err := lcfg.Build()
	if err != nil {
		return err
	}
	defer lg.Sync()

	v, err := builder.New(lg, builder.NewLocalRunner(lg)).Run(ctx, domainName, configPath, inputPath, outputPath)
	if err != nil {
		return err
	}
	lg.Info("domain version ready", zap.String("domain", domainName), zap.Int64("version", v.Number))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
