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

import "context"

// KVApi is the operation set every conforming key-value node exposes,
// abstracted from the replication mechanism.
//
// UpsertKV and Transaction mutate persistent state once replicated; the read
// operations are pure and served from the node's local replica, which may lag
// acknowledged writes.
type KVApi interface {
	// UpsertKV applies a conditional write. A condition mismatch is a
	// successful no-op reply, not an error; errors only surface from the
	// log layer (not leader, unavailable).
	UpsertKV(ctx context.Context, req UpsertKV) (UpsertKVReply, error)

	// GetKV returns the current record, or nil when the key is absent.
	GetKV(ctx context.Context, key string) (*SeqV, error)

	// MGetKV returns one entry per requested key, nil for absent keys,
	// in the same order and length as keys.
	MGetKV(ctx context.Context, keys []string) ([]*SeqV, error)

	// PrefixListKV returns every stored key whose string form starts with
	// prefix, with values and seqs. The order is undefined beyond being
	// stable for a single state-machine snapshot.
	PrefixListKV(ctx context.Context, prefix string) ([]KVPair, error)

	// Transaction atomically evaluates the conditions against one
	// consistent snapshot and applies the chosen branch.
	Transaction(ctx context.Context, req TxnRequest) (TxnReply, error)
}
