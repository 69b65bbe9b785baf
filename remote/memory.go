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

package remote

import (
	"context"
	"sync"

	"go.etcd.io/rollout/artifact"
)

// MemStore is an in-memory Store that records every fetch. Errors can be
// injected per artifact.
type MemStore struct {
	mu        sync.Mutex
	artifacts map[artifact.Ref][]byte
	failures  map[artifact.Ref]error
	fetches   []artifact.Ref
}

func NewMemStore() *MemStore {
	return &MemStore{
		artifacts: make(map[artifact.Ref][]byte),
		failures:  make(map[artifact.Ref]error),
	}
}

func (s *MemStore) Put(ref artifact.Ref, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[ref] = data
}

func (s *MemStore) Delete(ref artifact.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, ref)
}

// FailFetch makes fetches of ref return err until cleared with a nil err.
func (s *MemStore) FailFetch(ref artifact.Ref, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, ref)
		return
	}
	s.failures[ref] = err
}

// Fetches returns the artifacts fetched so far, in order, including failed
// attempts.
func (s *MemStore) Fetches() []artifact.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Ref(nil), s.fetches...)
}

func (s *MemStore) ResetFetches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = nil
}

func (s *MemStore) Exists(ctx context.Context, ref artifact.Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.artifacts[ref]
	return ok, nil
}

func (s *MemStore) Fetch(ctx context.Context, ref artifact.Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, ref)
	if err := s.failures[ref]; err != nil {
		return nil, err
	}
	b, ok := s.artifacts[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}
