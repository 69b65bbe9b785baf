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

// Package failure classifies errors produced by partition updates and
// rollout coordination.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = iota
	// KindChain means the version chain of a partition could not be
	// determined. It points at a data or configuration defect.
	KindChain
	// KindFetch is a transient failure reading a remote artifact.
	KindFetch
	// KindApply is a transient failure materializing an artifact locally.
	KindApply
	// KindBusy means another update of the same partition is in flight.
	KindBusy
	// KindNotAuthorized means rollout state was mutated without a valid
	// deployer claim.
	KindNotAuthorized
	// KindClaimBusy means the deployer claim is held by someone else.
	KindClaimBusy
)

func (k Kind) String() string {
	switch k {
	case KindChain:
		return "chain"
	case KindFetch:
		return "fetch"
	case KindApply:
		return "apply"
	case KindBusy:
		return "busy"
	case KindNotAuthorized:
		return "not-authorized"
	case KindClaimBusy:
		return "claim-busy"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation that failed with this kind may
// succeed when attempted again without operator intervention.
func (k Kind) Retryable() bool {
	switch k {
	case KindFetch, KindApply, KindBusy, KindClaimBusy:
		return true
	default:
		return false
	}
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "fetch 0000000000000002.delta".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Chain wraps err as a KindChain failure.
func Chain(op string, err error) error { return New(KindChain, op, err) }

// Fetch wraps err as a KindFetch failure.
func Fetch(op string, err error) error { return New(KindFetch, op, err) }

// Apply wraps err as a KindApply failure.
func Apply(op string, err error) error { return New(KindApply, op, err) }

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}
