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

// Package config holds the configuration of a serving host agent.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"go.etcd.io/rollout/pkg/logutil"
)

const (
	DefaultDialTimeoutMs     = 5000
	DefaultSessionTTL        = 10
	DefaultParallelism       = 4
	DefaultRetryInitialMs    = 500
	DefaultRetryMaxElapsedMs = 120000
	DefaultResyncIntervalMs  = 30000
	DefaultMetricsAddr       = "127.0.0.1:9110"
	DefaultEndpoint          = "127.0.0.1:2379"
	DefaultRingGroupName     = "default"
	DefaultDataDir           = "rollout.data"

	defaultHostPort = "12345"
)

// AgentConfig is the configuration of one serving host.
type AgentConfig struct {
	RingGroup string `json:"ring-group"`
	// HostAddr identifies the host in its ring.
	HostAddr string `json:"host-addr"`

	Endpoints     []string `json:"endpoints"`
	DialTimeoutMs int      `json:"dial-timeout-ms"`
	// SessionTTL is the lease TTL, in seconds, of deployer claims.
	SessionTTL int `json:"session-ttl"`

	Domain     string `json:"domain"`
	Partitions []int  `json:"partitions"`

	DataDir     string `json:"data-dir"`
	RemoteRoot  string `json:"remote-root"`
	CacheRoot   string `json:"cache-root"`
	CatalogPath string `json:"catalog-path"`

	Parallelism       int `json:"parallelism"`
	RetryInitialMs    int `json:"retry-initial-ms"`
	RetryMaxElapsedMs int `json:"retry-max-elapsed-ms"`
	// ResyncIntervalMs is how often a host retries after a failed reconcile.
	ResyncIntervalMs int `json:"resync-interval-ms"`

	MetricsAddr string `json:"metrics-addr"`

	Log logutil.Config `json:"log"`
}

// NewAgentConfig returns a config with default values.
func NewAgentConfig() *AgentConfig {
	return &AgentConfig{
		RingGroup:         DefaultRingGroupName,
		HostAddr:          hostAddr(),
		Endpoints:         []string{DefaultEndpoint},
		DialTimeoutMs:     DefaultDialTimeoutMs,
		SessionTTL:        DefaultSessionTTL,
		DataDir:           DefaultDataDir,
		Parallelism:       DefaultParallelism,
		RetryInitialMs:    DefaultRetryInitialMs,
		RetryMaxElapsedMs: DefaultRetryMaxElapsedMs,
		ResyncIntervalMs:  DefaultResyncIntervalMs,
		MetricsAddr:       DefaultMetricsAddr,
		Log:               logutil.DefaultConfig(),
	}
}

func hostAddr() string {
	h, err := os.Hostname()
	if err != nil {
		h = "localhost"
	}
	return net.JoinHostPort(h, defaultHostPort)
}

// Load reads a YAML or JSON config file on top of the defaults.
func Load(path string) (*AgentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewAgentConfig()
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.fillPaths()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths derives unset storage paths from DataDir.
func (c *AgentConfig) fillPaths() {
	if c.RemoteRoot == "" {
		c.RemoteRoot = filepath.Join(c.DataDir, "remote")
	}
	if c.CacheRoot == "" {
		c.CacheRoot = filepath.Join(c.DataDir, "cache")
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Validate checks that the config can run an agent.
func (c *AgentConfig) Validate() error {
	switch {
	case c.RingGroup == "":
		return errors.New("config: ring-group must be set")
	case c.HostAddr == "":
		return errors.New("config: host-addr must be set")
	case c.Domain == "":
		return errors.New("config: domain must be set")
	case len(c.Partitions) == 0:
		return errors.New("config: at least one partition must be served")
	case c.Parallelism < 1:
		return fmt.Errorf("config: parallelism must be positive, got %d", c.Parallelism)
	case c.SessionTTL < 1:
		return fmt.Errorf("config: session-ttl must be positive, got %d", c.SessionTTL)
	case c.DialTimeoutMs < 0 || c.RetryInitialMs < 0 || c.RetryMaxElapsedMs < 0 || c.ResyncIntervalMs < 0:
		return errors.New("config: timeouts must not be negative")
	}
	seen := make(map[int]struct{}, len(c.Partitions))
	for _, p := range c.Partitions {
		if p < 0 {
			return fmt.Errorf("config: invalid partition %d", p)
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("config: partition %d listed twice", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func (c *AgentConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

func (c *AgentConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

func (c *AgentConfig) RetryMaxElapsed() time.Duration {
	return time.Duration(c.RetryMaxElapsedMs) * time.Millisecond
}

func (c *AgentConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalMs) * time.Millisecond
}
