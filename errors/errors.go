// Copyright 2023 The FuseDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package errors defines the service-level error kinds of the metadata
// layer. Codec errors live with the codec (kvapi.KeyError); this package
// carries the log-layer and internal-consistency kinds so callers can tell
// "retry elsewhere" apart from "malformed request" and "bug".
package errors

import (
	"fmt"
	"net/http"
)

const (
	ErrCodeNotLeader = 601 + iota
	ErrCodeLogUnavailable
	ErrCodeProposalTimeout
	ErrCodeInternalContract
)

var (
	// ErrNotLeader reports a write submitted to a non-leader node.
	// Retryable against the current leader.
	ErrNotLeader = newError(ErrCodeNotLeader, "node is not the raft leader")

	// ErrLogUnavailable reports that the consensus log rejected or dropped
	// the entry. Retryable.
	ErrLogUnavailable = newError(ErrCodeLogUnavailable, "consensus log unavailable")

	// ErrProposalTimeout reports that the caller gave up waiting for
	// commit-and-apply. The entry may still apply later. Retryable.
	ErrProposalTimeout = newError(ErrCodeProposalTimeout, "proposal wait timed out")

	// ErrInternalContract reports an applied-state tag that does not match
	// the submitted command kind. This is a bug in the binding between the
	// contract and the log, never a recoverable condition.
	ErrInternalContract = newError(ErrCodeInternalContract, "applied state does not match command kind")
)

type Error struct {
	Code uint32
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("metaserver error(%d): %s", e.Code, e.Msg)
}

// StatusCode maps the error kind onto an http response status, so the rpc
// layer can respond without a translation table of its own.
func (e *Error) StatusCode() int {
	switch e.Code {
	case ErrCodeNotLeader, ErrCodeLogUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeProposalTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode is the stable machine-readable name of the error kind.
func (e *Error) ErrorCode() string {
	switch e.Code {
	case ErrCodeNotLeader:
		return "NotLeader"
	case ErrCodeLogUnavailable:
		return "LogUnavailable"
	case ErrCodeProposalTimeout:
		return "ProposalTimeout"
	case ErrCodeInternalContract:
		return "InternalContract"
	default:
		return "Internal"
	}
}

func newError(code uint32, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsRetryableError reports whether the caller may retry the request, possibly
// against another node. Codec errors and internal-contract violations are
// never retryable.
func IsRetryableError(err error) bool {
	switch err {
	case ErrNotLeader, ErrLogUnavailable, ErrProposalTimeout:
		return true
	default:
		return false
	}
}
