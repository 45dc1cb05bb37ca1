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

// CompareOp compares a key's current seq against a condition's seq.
type CompareOp uint8

const (
	CompareEQ CompareOp = iota
	CompareNE
	CompareGT
	CompareGE
	CompareLT
	CompareLE
)

// Compare evaluates "current op expect".
func (op CompareOp) Compare(current, expect uint64) bool {
	switch op {
	case CompareEQ:
		return current == expect
	case CompareNE:
		return current != expect
	case CompareGT:
		return current > expect
	case CompareGE:
		return current >= expect
	case CompareLT:
		return current < expect
	case CompareLE:
		return current <= expect
	default:
		return false
	}
}

func (op CompareOp) String() string {
	switch op {
	case CompareEQ:
		return "=="
	case CompareNE:
		return "!="
	case CompareGT:
		return ">"
	case CompareGE:
		return ">="
	case CompareLT:
		return "<"
	case CompareLE:
		return "<="
	default:
		return "?"
	}
}

// TxnCondition is one predicate of a transaction: the key's current seq
// compared against Seq. An absent key has seq 0, so {EQ, 0} reads as
// "key is absent" and {GT, 0} as "key is present".
type TxnCondition struct {
	Key string    `json:"key"`
	Op  CompareOp `json:"op"`
	Seq uint64    `json:"seq"`
}

func CondSeqEQ(key string, seq uint64) TxnCondition {
	return TxnCondition{Key: key, Op: CompareEQ, Seq: seq}
}

func CondKeyAbsent(key string) TxnCondition {
	return TxnCondition{Key: key, Op: CompareEQ, Seq: 0}
}

func CondKeyPresent(key string) TxnCondition {
	return TxnCondition{Key: key, Op: CompareGT, Seq: 0}
}

func (c TxnCondition) String() string {
	return fmt.Sprintf("%s seq %s %d", c.Key, c.Op, c.Seq)
}

// TxnOpKind selects the operation of one transaction branch entry.
type TxnOpKind uint8

const (
	TxnOpPut TxnOpKind = iota
	TxnOpDelete
	TxnOpGet
)

func (k TxnOpKind) String() string {
	switch k {
	case TxnOpPut:
		return "Put"
	case TxnOpDelete:
		return "Delete"
	case TxnOpGet:
		return "Get"
	default:
		return "Unknown"
	}
}

// TxnOp is one operation of a transaction branch.
type TxnOp struct {
	Kind  TxnOpKind `json:"kind"`
	Key   string    `json:"key"`
	Value []byte    `json:"value,omitempty"`
	Meta  *KVMeta   `json:"meta,omitempty"`
}

func TxnPut(key string, value []byte) TxnOp {
	return TxnOp{Kind: TxnOpPut, Key: key, Value: value}
}

func TxnPutWithMeta(key string, value []byte, meta *KVMeta) TxnOp {
	return TxnOp{Kind: TxnOpPut, Key: key, Value: value, Meta: meta}
}

func TxnDelete(key string) TxnOp {
	return TxnOp{Kind: TxnOpDelete, Key: key}
}

func TxnGet(key string) TxnOp {
	return TxnOp{Kind: TxnOpGet, Key: key}
}

// TxnRequest is an atomic conditional transaction: if every condition holds
// against one consistent snapshot, the Then branch is applied, otherwise the
// Else branch. The chosen branch commits under a single log entry; no
// operation ever executes outside a branch.
type TxnRequest struct {
	Conditions []TxnCondition `json:"conditions,omitempty"`
	Then       []TxnOp        `json:"then,omitempty"`
	Else       []TxnOp        `json:"else,omitempty"`
}

// TxnOpResponse is the result of one branch operation, in branch order.
// Put and Delete report the previous record; Get reports the current one.
type TxnOpResponse struct {
	Kind    TxnOpKind `json:"kind"`
	Key     string    `json:"key"`
	Prev    *SeqV     `json:"prev,omitempty"`
	Current *SeqV     `json:"current,omitempty"`
}

// TxnReply reports which branch executed and that branch's results.
type TxnReply struct {
	Success   bool            `json:"success"`
	Responses []TxnOpResponse `json:"responses,omitempty"`
}
