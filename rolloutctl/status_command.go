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
	"sort"

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"
)

// NewStatusCommand returns the cobra command for "status".
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the rollout state, deployer and rings of the ring group",
		Args:  cobra.NoArgs,
		Run:   statusCommandFunc,
	}
}

func statusCommandFunc(cmd *cobra.Command, args []string) {
	g, closeFn := mustRingGroupFromCmd(getLogger())
	defer closeFn()
	ctx, cancel := commandCtx()
	defer cancel()

	s, err := g.State(ctx)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	online, err := g.IsDeployerOnline(ctx)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	rings, err := g.Rings(ctx)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	versions, err := g.HostVersions(ctx)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}

	fmt.Printf("ring group: %s\n", g.Name())
	fmt.Printf("state: %s\n", s)
	fmt.Printf("deployer online: %t\n", online)
	for _, r := range rings {
		fmt.Printf("ring %d:\n", r.Number)
		for _, h := range r.Hosts {
			if v, ok := versions[h]; ok {
				fmt.Printf("  %s version %d\n", h, v)
			} else {
				fmt.Printf("  %s version unknown\n", h)
			}
		}
	}
}

// NewHostVersionsCommand returns the cobra command for "host-versions".
func NewHostVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "host-versions",
		Short: "Prints the version each host reported",
		Args:  cobra.NoArgs,
		Run:   hostVersionsCommandFunc,
	}
}

func hostVersionsCommandFunc(cmd *cobra.Command, args []string) {
	g, closeFn := mustRingGroupFromCmd(getLogger())
	defer closeFn()
	ctx, cancel := commandCtx()
	defer cancel()

	versions, err := g.HostVersions(ctx)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	hosts := make([]string, 0, len(versions))
	for h := range versions {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		fmt.Printf("%s\t%d\n", h, versions[h])
	}
}
