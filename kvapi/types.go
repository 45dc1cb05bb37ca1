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

package kvapi

import "fmt"

// MatchSeqKind selects how a write condition compares against the current seq.
type MatchSeqKind uint8

const (
	// MatchSeqKindAny matches any seq, including an absent key.
	MatchSeqKindAny MatchSeqKind = iota
	// MatchSeqKindExact matches when the current seq equals Seq exactly.
	MatchSeqKindExact
	// MatchSeqKindAtLeast matches when the current seq is >= Seq.
	MatchSeqKindAtLeast
)

// MatchSeq is the condition an upsert is gated on. An absent key has seq 0,
// so Exact(0) means "must be absent" and AtLeast(1) means "must be present".
// A condition mismatch makes the write a no-op, never an error.
type MatchSeq struct {
	Kind MatchSeqKind `json:"kind"`
	Seq  uint64       `json:"seq,omitempty"`
}

func MatchSeqAny() MatchSeq             { return MatchSeq{Kind: MatchSeqKindAny} }
func MatchSeqExact(seq uint64) MatchSeq { return MatchSeq{Kind: MatchSeqKindExact, Seq: seq} }
func MatchSeqAtLeast(seq uint64) MatchSeq {
	return MatchSeq{Kind: MatchSeqKindAtLeast, Seq: seq}
}
func MustBeAbsent() MatchSeq  { return MatchSeqExact(0) }
func MustBePresent() MatchSeq { return MatchSeqAtLeast(1) }

// Match reports whether the condition holds against the current seq.
func (m MatchSeq) Match(seq uint64) bool {
	switch m.Kind {
	case MatchSeqKindAny:
		return true
	case MatchSeqKindExact:
		return seq == m.Seq
	case MatchSeqKindAtLeast:
		return seq >= m.Seq
	default:
		return false
	}
}

func (m MatchSeq) String() string {
	switch m.Kind {
	case MatchSeqKindAny:
		return "any"
	case MatchSeqKindExact:
		return fmt.Sprintf("== %d", m.Seq)
	case MatchSeqKindAtLeast:
		return fmt.Sprintf(">= %d", m.Seq)
	default:
		return "unknown"
	}
}

// OperationKind selects what an upsert does with the value.
type OperationKind uint8

const (
	// OperationKindAsIs keeps the current value, updating only the metadata.
	OperationKindAsIs OperationKind = iota
	// OperationKindUpdate replaces the value.
	OperationKindUpdate
	// OperationKindDelete removes the record.
	OperationKindDelete
)

// Operation is the value half of an upsert.
type Operation struct {
	Kind  OperationKind `json:"kind"`
	Value []byte        `json:"value,omitempty"`
}

func OpUpdate(value []byte) Operation {
	return Operation{Kind: OperationKindUpdate, Value: value}
}
func OpDelete() Operation { return Operation{Kind: OperationKindDelete} }
func OpAsIs() Operation   { return Operation{Kind: OperationKindAsIs} }

func (op Operation) String() string {
	switch op.Kind {
	case OperationKindAsIs:
		return "AsIs"
	case OperationKindUpdate:
		return fmt.Sprintf("Update(%d bytes)", len(op.Value))
	case OperationKindDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// KVMeta is the optional metadata stored with a value.
type KVMeta struct {
	// ExpireAtSec is the absolute expiration time in unix seconds;
	// zero means the record never expires.
	ExpireAtSec uint64 `json:"expire_at,omitempty"`
}

// Expired reports whether the record is past its expiration at nowSec.
// Expired records read as absent.
func (m *KVMeta) Expired(nowSec uint64) bool {
	return m != nil && m.ExpireAtSec != 0 && m.ExpireAtSec < nowSec
}

// SeqV is a stored record: an opaque payload stamped with the seq the state
// machine assigned on its last successful write.
type SeqV struct {
	Seq  uint64  `json:"seq"`
	Meta *KVMeta `json:"meta,omitempty"`
	Data []byte  `json:"data"`
}

// SeqOf is the seq of a possibly-absent record; an absent key has seq 0.
func SeqOf(v *SeqV) uint64 {
	if v == nil {
		return 0
	}
	return v.Seq
}

// KVPair is one entry of a prefix-list reply.
type KVPair struct {
	Key   string `json:"key"`
	Value SeqV   `json:"value"`
}

// UpsertKV is a conditional write request.
type UpsertKV struct {
	Key       string    `json:"key"`
	Seq       MatchSeq  `json:"seq"`
	Value     Operation `json:"value"`
	ValueMeta *KVMeta   `json:"value_meta,omitempty"`
}

// UpsertKVReply reports the state transition of an upsert. On a condition
// mismatch the write is a no-op and Result equals Prev; both are nil when the
// key is absent.
type UpsertKVReply struct {
	Prev   *SeqV `json:"prev,omitempty"`
	Result *SeqV `json:"result,omitempty"`
}

// Changed reports whether the upsert actually mutated the record.
func (r *UpsertKVReply) Changed() bool {
	return SeqOf(r.Prev) != SeqOf(r.Result)
}
