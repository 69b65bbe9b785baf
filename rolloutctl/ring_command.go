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
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"
)

// NewAddRingCommand returns the cobra command for "add-ring".
func NewAddRingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-ring <number> [host...]",
		Short: "Adds a ring, optionally with hosts, to the ring group",
		Args:  cobra.MinimumNArgs(1),
		Run:   addRingCommandFunc,
	}
}

func addRingCommandFunc(cmd *cobra.Command, args []string) {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, fmt.Errorf("invalid ring number %q: %w", args[0], err))
	}
	g, closeFn := mustRingGroupFromCmd(getLogger())
	defer closeFn()
	ctx, cancel := commandCtx()
	defer cancel()

	if _, err = g.AddRing(ctx, n); err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	for _, h := range args[1:] {
		if err = g.AddHost(ctx, n, h); err != nil {
			cobrautl.ExitWithError(cobrautl.ExitError, err)
		}
	}
	fmt.Printf("added ring %d to %s\n", n, g.Name())
}

// NewAddHostCommand returns the cobra command for "add-host".
func NewAddHostCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-host <ring> <host>",
		Short: "Adds a host to an existing ring",
		Args:  cobra.ExactArgs(2),
		Run:   addHostCommandFunc,
	}
}

func addHostCommandFunc(cmd *cobra.Command, args []string) {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, fmt.Errorf("invalid ring number %q: %w", args[0], err))
	}
	g, closeFn := mustRingGroupFromCmd(getLogger())
	defer closeFn()
	ctx, cancel := commandCtx()
	defer cancel()

	if err = g.AddHost(ctx, n, args[1]); err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	fmt.Printf("added %s to ring %d\n", args[1], n)
}

// NewRingForHostCommand returns the cobra command for "ring-for-host".
func NewRingForHostCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ring-for-host <host>",
		Short: "Prints the ring a host belongs to",
		Args:  cobra.ExactArgs(1),
		Run:   ringForHostCommandFunc,
	}
}

func ringForHostCommandFunc(cmd *cobra.Command, args []string) {
	g, closeFn := mustRingGroupFromCmd(getLogger())
	defer closeFn()
	ctx, cancel := commandCtx()
	defer cancel()

	r, err := g.RingForHost(ctx, args[0])
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	if r == nil {
		cobrautl.ExitWithError(cobrautl.ExitError, fmt.Errorf("%s does not belong to any ring", args[0]))
	}
	fmt.Printf("ring %d: %s\n", r.Number, strings.Join(r.Hosts, ","))
}
