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

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"

	"go.etcd.io/rollout/domain"
)

var catalogPath string

// NewVersionsCommand returns the cobra command for "versions".
func NewVersionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions [domain]",
		Short: "Lists the live versions of a domain, or all domains",
		Args:  cobra.MaximumNArgs(1),
		Run:   versionsCommandFunc,
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.db", "path to the domain catalog")
	return cmd
}

func versionsCommandFunc(cmd *cobra.Command, args []string) {
	cat, err := domain.OpenCatalog(getLogger(), catalogPath, true)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitIO, err)
	}
	defer cat.Close()

	names := args
	if len(names) == 0 {
		if names, err = cat.Domains(); err != nil {
			cobrautl.ExitWithError(cobrautl.ExitIO, err)
		}
	}
	for _, name := range names {
		d, err := cat.Domain(name)
		if err != nil {
			cobrautl.ExitWithError(cobrautl.ExitError, fmt.Errorf("%s: %w", name, err))
		}
		fmt.Printf("%s (%d partitions)\n", name, d.NumPartitions())
		for _, v := range d.Versions() {
			fmt.Printf("  %d\t%s\n", v.Number, v.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
}

// NewPruneVersionCommand returns the cobra command for "prune-version".
func NewPruneVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune-version <domain> <version>",
		Short: "Removes a version from the live list of a domain",
		Args:  cobra.ExactArgs(2),
		Run:   pruneVersionCommandFunc,
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.db", "path to the domain catalog")
	return cmd
}

func pruneVersionCommandFunc(cmd *cobra.Command, args []string) {
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitBadArgs, fmt.Errorf("invalid version %q: %w", args[1], err))
	}
	cat, err := domain.OpenCatalog(getLogger(), catalogPath, false)
	if err != nil {
		cobrautl.ExitWithError(cobrautl.ExitIO, err)
	}
	defer cat.Close()
	if err = cat.PruneVersion(args[0], n); err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
	fmt.Printf("pruned %s version %d\n", args[0], n)
}
