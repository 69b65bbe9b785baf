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

package builder

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Config describes how a domain is built.
type Config struct {
	// NumPartitions is used when the domain does not exist yet.
	NumPartitions int `json:"num-partitions"`
	// Delta makes every version after the first a delta of its
	// predecessor. Otherwise every version is a full base.
	Delta       bool   `json:"delta"`
	CatalogPath string `json:"catalog-path"`
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("builder: parse %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.NumPartitions <= 0 {
		return fmt.Errorf("builder: num-partitions must be positive, got %d", c.NumPartitions)
	}
	if c.CatalogPath == "" {
		return errors.New("builder: catalog-path must be set")
	}
	return nil
}
