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

// rolloutctl is a command line tool for ring group rollouts.
package main

import (
	"github.com/spf13/cobra"
	"go.etcd.io/etcd/pkg/v3/cobrautl"

	"go.etcd.io/rollout/rolloutctl"
)

const (
	cliName        = "rolloutctl"
	cliDescription = "A command line tool to roll domain versions out to ring groups."
)

var (
	rootCmd = &cobra.Command{
		Use:        cliName,
		Short:      cliDescription,
		SuggestFor: []string{"rolloutctl"},
	}
)

func init() {
	rolloutctl.RegisterGlobalFlags(rootCmd)
	rootCmd.AddCommand(
		rolloutctl.NewStatusCommand(),
		rolloutctl.NewRolloutCommand(),
		rolloutctl.NewAddRingCommand(),
		rolloutctl.NewAddHostCommand(),
		rolloutctl.NewRingForHostCommand(),
		rolloutctl.NewHostVersionsCommand(),
		rolloutctl.NewVersionsCommand(),
		rolloutctl.NewPruneVersionCommand(),
		rolloutctl.NewAgentCommand(),
	)
	cobra.EnablePrefixMatching = true
}

func main() {
	// Make help just show the usage
	rootCmd.SetHelpTemplate(`{{.UsageString}}`)
	if err := rootCmd.Execute(); err != nil {
		cobrautl.ExitWithError(cobrautl.ExitError, err)
	}
}
