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
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"

	"go.etcd.io/rollout/deployer"
	"go.etcd.io/rollout/failure"
)

var rolloutPollInterval time.Duration

// NewRolloutCommand returns the cobra command for "rollout".
func NewRolloutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout <version>",
		Short: "Rolls the ring group out to a domain version and waits for every host",
		Args:  cobra.ExactArgs(1),
		Run:   rolloutCommandFunc,
	}
	cmd.Flags().DurationVar(&rolloutPollInterval, "poll-interval", deployer.DefaultPollInterval, "how often host versions are checked")
	return cmd
}

func rolloutCommandFunc(cmd *cobra.Command, args []string) {
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, fmt.Errorf("invalid version %q: %w", args[0], err))
	}
	lg := getLogger()
	g, closeFn := mustRingGroupFromCmd(lg)
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := deployer.New(lg, g, deployer.Options{PollInterval: rolloutPollInterval})
	if err = d.Deploy(ctx, target); err != nil {
		if failure.Is(err, failure.KindClaimBusy) {
			cobrautl.ExitWithError(cobrautl.ExitError, fmt.Errorf("another deployer is running: %w", err))
		}
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	fmt.Printf("ring group %s serves version %d\n", g.Name(), target)
}
