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

// Package artifact names the per-partition, per-version files produced by
// the domain builder and consumed by serving hosts.
package artifact

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags an artifact as a self-contained base or as a delta against the
// previous version.
type Kind int

const (
	Base Kind = iota
	Delta
)

const (
	BaseExt  = ".base"
	DeltaExt = ".delta"
)

var ErrBadName = errors.New("artifact: bad file name")

func (k Kind) String() string {
	switch k {
	case Base:
		return "base"
	case Delta:
		return "delta"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Ext returns the file extension used for artifacts of this kind.
func (k Kind) Ext() string {
	switch k {
	case Base:
		return BaseExt
	case Delta:
		return DeltaExt
	default:
		panic(fmt.Sprintf("artifact: unknown kind %d", int(k)))
	}
}

// Other returns the kind a version of this kind must not also have.
func (k Kind) Other() Kind {
	switch k {
	case Base:
		return Delta
	case Delta:
		return Base
	default:
		panic(fmt.Sprintf("artifact: unknown kind %d", int(k)))
	}
}

// Ref addresses one artifact of a partition.
type Ref struct {
	Version int64
	Kind    Kind
}

func (r Ref) String() string { return Name(r.Version, r.Kind) }

// Artifact is a fetched artifact. Data is opaque to this package.
type Artifact struct {
	Ref
	Data []byte
}

// Name returns the file name of the artifact for version v of kind k.
// Names sort lexically in version order.
func Name(v int64, k Kind) string {
	return fmt.Sprintf("%016d%s", v, k.Ext())
}

// Parse is the inverse of Name.
func Parse(name string) (Ref, error) {
	var k Kind
	var num string
	switch {
	case strings.HasSuffix(name, BaseExt):
		k, num = Base, strings.TrimSuffix(name, BaseExt)
	case strings.HasSuffix(name, DeltaExt):
		k, num = Delta, strings.TrimSuffix(name, DeltaExt)
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if len(num) != 16 {
		return Ref{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	v, err := strconv.ParseInt(num, 10, 64)
	if err != nil || v < 0 {
		return Ref{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return Ref{Version: v, Kind: k}, nil
}
