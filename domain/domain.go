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

package domain

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Version is one published version of a domain. Versions are never
// mutated after creation; pruning removes them from the live list.
type Version struct {
	Number    int64     `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

func (v Version) String() string { return fmt.Sprintf("v%d", v.Number) }

// Domain is a named dataset split into a fixed number of partitions.
type Domain interface {
	Name() string
	NumPartitions() int
	// VersionByNumber looks n up in the live version list.
	VersionByNumber(n int64) (Version, bool)
	// Versions returns the live versions in ascending order.
	Versions() []Version
}

// Memory is a Domain held in memory. It is safe for concurrent use.
type Memory struct {
	name       string
	partitions int

	mu       sync.RWMutex
	versions map[int64]Version
}

// New returns an in-memory domain whose live list holds the given numbers.
func New(name string, partitions int, numbers ...int64) *Memory {
	d := &Memory{name: name, partitions: partitions, versions: make(map[int64]Version)}
	for _, n := range numbers {
		d.Add(Version{Number: n})
	}
	return d
}

func (d *Memory) Name() string       { return d.name }
func (d *Memory) NumPartitions() int { return d.partitions }

func (d *Memory) VersionByNumber(n int64) (Version, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.versions[n]
	return v, ok
}

func (d *Memory) Versions() []Version {
	d.mu.RLock()
	vs := make([]Version, 0, len(d.versions))
	for _, v := range d.versions {
		vs = append(vs, v)
	}
	d.mu.RUnlock()
	sort.Slice(vs, func(i, j int) bool { return vs[i].Number < vs[j].Number })
	return vs
}

// Add puts v into the live list.
func (d *Memory) Add(v Version) {
	d.mu.Lock()
	d.versions[v.Number] = v
	d.mu.Unlock()
}

// Prune removes version n from the live list.
func (d *Memory) Prune(n int64) {
	d.mu.Lock()
	delete(d.versions, n)
	d.mu.Unlock()
}

// Sync replaces the live list with the one of src.
func (d *Memory) Sync(src Domain) {
	vs := src.Versions()
	d.mu.Lock()
	d.versions = make(map[int64]Version, len(vs))
	for _, v := range vs {
		d.versions[v.Number] = v
	}
	d.mu.Unlock()
}

func (d *Memory) String() string { return d.name }
